package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/bookdraft-backend/internal/app"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
)

var watchChannel string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print job progress events from the redis progress bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if a.Clients.Progress == nil {
				return fmt.Errorf("watch needs REDIS_ADDR")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			err := a.Clients.Progress.StartForwarder(ctx, func(m types.Message) {
				if watchChannel != "" && m.Channel != watchChannel {
					return
				}
				_ = enc.Encode(m)
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchChannel, "channel", "", "only print events for this channel, e.g. book_version:<id>")
}
