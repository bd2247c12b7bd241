package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/denoiseopt/internal/config"
	"github.com/cwbudde/denoiseopt/internal/server"
	"github.com/cwbudde/denoiseopt/internal/store"
	"github.com/cwbudde/denoiseopt/internal/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts the HTTP API for submitting and watching optimization jobs.
Settings come from DENOISE_* environment variables (a .env file is read
if present); --addr overrides DENOISE_ADDR.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides DENOISE_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if !cmd.Flags().Changed("log-level") {
		slog.SetDefault(newLogger(cfg.LogLevel, os.Stdout))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return err
	}

	jobMetrics, err := telemetry.NewJobMetrics(telemetry.Meter("denoiseopt/jobs"))
	if err != nil {
		return err
	}

	runStore, closer, err := store.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer closer.Close()

	srv := server.NewServer(cfg.Addr, runStore).
		WithDefaults(server.Defaults{
			MaxIterations: cfg.MaxIterations,
			Parallelism:   cfg.Parallelism,
			Weights:       cfg.Weights,
		}).
		WithMetrics(jobMetrics).
		WithReadTimeout(cfg.ReadTimeout)

	slog.Info("Server configured", "addr", cfg.Addr, "store", cfg.Store, "data_dir", cfg.DataDir, "otel", cfg.OTELEndpoint != "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if otelErr := otelShutdown(shutdownCtx); otelErr != nil {
			slog.Warn("Telemetry shutdown failed", "error", otelErr)
		}
		return err
	})

	return g.Wait()
}
