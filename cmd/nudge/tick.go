package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
)

func newTickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one evaluation pass, deliver its events and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(opts)
			ctx := newLogContext(cmd.Context(), cfg.Debug)

			a, err := wireApp(ctx, cfg)
			if err != nil {
				log.Errorf(ctx, err, "startup failed")
				return err
			}
			defer a.Close()

			report, err := a.scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
