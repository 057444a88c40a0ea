package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mentor/internal/config"
)

func newStatusCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print ledger metrics and plateau status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger(cfg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"metrics":         l.MetricsSummary(),
				"plateau":         l.PlateauReport(),
				"recommendations": l.Recommendations(),
				"categories":      l.CategoryBreakdown(),
			})
		},
	}
}
