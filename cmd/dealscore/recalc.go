package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/pipedesk/dealscore/internal/domain"
)

func recalcCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "recalc <deal-id>",
		Short: "Recalculate one deal and print its breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			bd, err := rt.engine.Recalculate(ctx, args[0], domain.TriggerManual)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(bd)
		},
	}
}
