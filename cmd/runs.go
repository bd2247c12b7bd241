package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/denoiseopt/internal/store"
)

var (
	runsDataDir   string
	runsStoreKind string
	keepLast      int
	olderThanDays int
	forceClean    bool
	showJSON      bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage persisted optimization runs",
	Long: `Manage runs saved by "run --save" or the job server, including
listing, inspecting and cleaning old runs.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	Long:  `Display all runs with metadata including run ID, timestamp, stop reason, score and size on disk.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run record and its iteration trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs based on retention policy.
You can keep only the newest N runs or delete runs older than N days.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "./data", "Base directory for run storage")
	runsCmd.PersistentFlags().StringVar(&runsStoreKind, "store", store.KindFS, "Run store backend (fs, sqlite)")

	showRunCmd.Flags().BoolVar(&showJSON, "json", false, "Print the raw run record as JSON")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, closer, err := store.Open(runsStoreKind, runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer closer.Close()

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tSTOP\tITERATIONS\tAPPLIED\tSCORE\tSIZE")
	fmt.Fprintln(w, "------\t---------\t----\t----------\t-------\t-----\t----")

	for _, info := range infos {
		// Artifacts and traces always live in the run directory
		size, err := getDirSize(filepath.Join(runsDataDir, "runs", info.RunID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4f\t%s\n",
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Stop,
			info.Iterations,
			info.Applied,
			info.FinalScore,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, closer, err := store.Open(runsStoreKind, runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer closer.Close()

	rec, err := runStore.LoadRun(args[0])
	if err != nil {
		return err
	}
	if showJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	return printRun(cmd.OutOrStdout(), rec, runsDataDir)
}

func printRun(out io.Writer, rec *store.RunRecord, dataDir string) error {
	fmt.Fprintf(out, "Run: %s\n", rec.RunID)
	fmt.Fprintf(out, "Finished: %s (%d ms)\n", rec.Timestamp.Format(time.RFC3339), rec.DurationMs)
	fmt.Fprintf(out, "Reference: %s\n", rec.Config.RefPath)
	if rec.Config.InputPath != "" {
		fmt.Fprintf(out, "Input: %s\n", rec.Config.InputPath)
	}
	fmt.Fprintf(out, "Stop: %s after %d iteration(s)\n", rec.Stop, rec.Iterations)
	fmt.Fprintf(out, "Score: %.4f -> %.4f\n", rec.InitialScore, rec.FinalScore)
	fmt.Fprintf(out, "PSNR %s  SSIM %.4f  MSE %.2f\n", formatPSNR(rec.FinalMetrics.PSNR), rec.FinalMetrics.SSIM, rec.FinalMetrics.MSE)
	if len(rec.Applied) > 0 {
		fmt.Fprintf(out, "Applied: %s\n", strings.Join(rec.Applied, " -> "))
	}
	fmt.Fprintf(out, "Output hash: %s\n", rec.OutputHash)

	tr, err := store.NewTraceReader(dataDir, rec.RunID)
	if err != nil {
		// Server runs have no trace
		return nil
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Fprintln(out, "\nTrace:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tBEST OPERATION\tBASELINE\tBEST\tIMPROVED")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\t%s\n", e.Iteration, e.Operation, e.BaselineScore, e.BestScore, yesNo(e.Improved))
	}
	return w.Flush()
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runStore, closer, err := store.Open(runsStoreKind, runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer closer.Close()

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n",
			shortID(info.RunID),
			info.Stop,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := runStore.DeleteRun(info.RunID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.RunID, "error", err)
			failed++
			continue
		}
		// Remove artifacts and trace left by the sqlite backend
		if err := os.RemoveAll(filepath.Join(runsDataDir, "runs", info.RunID)); err != nil {
			slog.Warn("Failed to remove run directory", "run_id", info.RunID, "error", err)
		}
		slog.Info("Deleted run", "run_id", info.RunID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion applies the retention policy: runs older than
// olderThanDays, plus everything beyond the newest keepLast
func selectRunsForDeletion(infos []store.RunInfo, keepLast int, olderThanDays int, now time.Time) []store.RunInfo {
	var toDelete []store.RunInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RunInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		})

		for _, info := range sorted[keepLast:] {
			if !selected[info.RunID] {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
