package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
)

func NewSweepCommand() *cobra.Command {
	backend := NewBackendFlags()

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Offers every queued chat to the online operators once and prints the outcome.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := backend.Apply(cfg); err != nil {
				return err
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.services.Engine.Sweep(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	backend.BindFlags(cmd.Flags())
	return cmd
}
