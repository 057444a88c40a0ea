package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mentor/internal/backfill"
	"github.com/MikeSquared-Agency/mentor/internal/config"
)

func newIngestCommand(cfg config.Config) *cobra.Command {
	var stopOnPlateau bool

	cmd := &cobra.Command{
		Use:   "ingest <dir|file>",
		Short: "Analyze a directory of transcripts into the ledger",
		Long: `ingest analyzes every .pdf, .txt and .md transcript under the given path,
one at a time. Progress is kept in backfill-state.json in the results
directory, so an interrupted run resumes where it stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ingest(ctx, cfg, args[0], stopOnPlateau)
		},
	}
	cmd.Flags().BoolVar(&stopOnPlateau, "stop-on-plateau", false, "Stop once the ledger reports a learning plateau")
	return cmd
}

func ingest(ctx context.Context, cfg config.Config, path string, stopOnPlateau bool) error {
	s, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	var notifier backfill.Notifier
	if s.slack != nil {
		notifier = s.slack
	}

	runner := backfill.NewRunner(backfill.Config{
		Path:          path,
		StatePath:     filepath.Join(cfg.ResultsDir, backfill.StateFileName),
		StopOnPlateau: stopOnPlateau,
	}, s.analyzer, s.ledger, notifier, slog.Default())

	summary, err := runner.Run(ctx)
	if summary != nil {
		fmt.Printf("\n=== Ingest Summary ===\n")
		fmt.Printf("Files discovered: %d\n", summary.Discovered)
		fmt.Printf("Already processed: %d\n", summary.Skipped)
		fmt.Printf("Files processed: %d\n", len(summary.Files))
		fmt.Printf("Errors: %d\n", len(summary.Errors))
		if summary.StoppedOnPlateau {
			fmt.Printf("Stopped early: learning plateau reached\n")
		}
		fmt.Printf("Corpus size: %d lessons\n", s.ledger.CorpusSize())
	}
	return err
}
