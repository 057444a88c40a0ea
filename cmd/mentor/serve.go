package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mentor/internal/api"
	"github.com/MikeSquared-Agency/mentor/internal/config"
	"github.com/MikeSquared-Agency/mentor/internal/hermes"
	"github.com/MikeSquared-Agency/mentor/internal/jobs"
)

func newServeCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload and lessons API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	slog.Info("mentor starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return err
	}

	queue := jobs.NewQueue(s.analyzer, slog.Default())
	queue.Start(ctx)

	if s.hermes != nil {
		if err := s.hermes.Subscribe(hermes.SubjectTranscriptSubmitted, queue.HandleTranscriptSubmitted); err != nil {
			return err
		}
	}

	apiOpts := api.Options{
		Port:        cfg.Port,
		UploadDir:   cfg.UploadDir,
		MaxUploadMB: cfg.UploadMaxMB,
		Gatherer:    s.registry,
		Results:     s.archive,
	}
	if s.hermes != nil {
		apiOpts.NATSStatus = s.hermes.Status
	}
	srv := api.NewServer(apiOpts, s.ledger, queue, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("mentor ready", "port", cfg.Port, "plateaued", s.ledger.IsPlateaued())

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	cancel()
	queue.Wait()

	slog.Info("mentor stopped")
	return nil
}
