package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yungbote/bookdraft-backend/internal/app"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued drafting jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			a.Log.Info("Worker starting", "temporal", a.TemporalEnabled())
			return a.RunWorker(ctx)
		})
	},
}
