package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/denoiseopt/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job on the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, cancelCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
		rootCmd.AddCommand(c)
	}
}

// jobStatus mirrors the status endpoint
type jobStatus struct {
	server.Job
	Elapsed float64 `json:"elapsed"`
	EPS     float64 `json:"eps"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listJobs(out, fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(out, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func listJobs(out io.Writer, url string) error {
	var jobs []server.Job
	if err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Reference: %s\n", job.Config.RefPath)
		fmt.Fprintf(out, "  Iterations: %d\n", job.Iterations)
		if job.InitialMetrics != nil {
			fmt.Fprintf(out, "  Score: %.4f -> %.4f\n", job.InitialScore, job.Score)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var status jobStatus
	err := getJSON(url, &status)
	if errors.Is(err, errNotFound) {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}
	printJobStatus(out, status)
	return nil
}

func printJobStatus(out io.Writer, status jobStatus) {
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	if status.Stop != "" {
		fmt.Fprintf(out, "Stop: %s\n", status.Stop)
	}
	fmt.Fprintln(out)

	cfg := status.Config
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Reference: %s\n", cfg.RefPath)
	if cfg.InputPath != "" {
		fmt.Fprintf(out, "  Input: %s\n", cfg.InputPath)
	}
	if len(cfg.Operations) > 0 {
		fmt.Fprintf(out, "  Operations: %s\n", strings.Join(cfg.Operations, ", "))
	} else {
		fmt.Fprintln(out, "  Operations: default catalog")
	}
	fmt.Fprintf(out, "  Max iterations: %d\n", cfg.MaxIterations)
	if cfg.Weights != nil {
		fmt.Fprintf(out, "  Weights: psnr=%g ssim=%g mse=%g\n", cfg.Weights.PSNR, cfg.Weights.SSIM, cfg.Weights.MSE)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Iterations: %d\n", status.Iterations)
	if status.InitialMetrics != nil {
		fmt.Fprintf(out, "  Initial score: %.4f\n", status.InitialScore)
		fmt.Fprintf(out, "  Score: %.4f (%+.4f)\n", status.Score, status.Score-status.InitialScore)
	}
	if status.Metrics != nil {
		fmt.Fprintf(out, "  PSNR %s  SSIM %.4f  MSE %.2f\n", formatPSNR(status.Metrics.PSNR), status.Metrics.SSIM, status.Metrics.MSE)
	}
	if len(status.Applied) > 0 {
		fmt.Fprintf(out, "  Applied: %s\n", strings.Join(status.Applied, " -> "))
	}

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.EPS > 0 {
		fmt.Fprintf(out, "  Throughput: %.1f evaluations/sec\n", status.EPS)
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete,
		fmt.Sprintf("%s/api/v1/jobs/%s", serverURL, jobID), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", jobID)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("job not found: %s", jobID)
	default:
		return serverError(resp)
	}
}

var errNotFound = errors.New("not found")

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func serverError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}
