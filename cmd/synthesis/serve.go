package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/shutdown"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/app"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := shutdown.NotifyContext(context.Background(), signalLogger())
			defer stop()

			a, err := app.New(ctx)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}
