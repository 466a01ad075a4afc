package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func sweepCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the daily recalculation sweep once and exit",
		Long:  "Recalculates every active and snoozed deal, applying time decay and\nexpired snoozes. Intended as a cron entrypoint; prints the report as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.engine.RunDailySweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			if report.Failed > 0 {
				return fmt.Errorf("%d of %d deals failed recalculation", report.Failed, report.Processed)
			}
			return nil
		},
	}
}
