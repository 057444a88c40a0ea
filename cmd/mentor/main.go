package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mentor/internal/config"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	rootCmd := &cobra.Command{
		Use:   "mentor",
		Short: "Sales-call lesson harvesting with dedup and plateau detection",
		Long: `mentor runs a panel of analysis agents over sales-call transcripts,
keeps the distinct lessons they yield, and tells you when new transcripts
stop teaching anything new.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand(cfg))
	rootCmd.AddCommand(newIngestCommand(cfg))
	rootCmd.AddCommand(newStatusCommand(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
