package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/bookdraft-backend/internal/app"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "bookdraft",
	Short: "Skeleton-driven section drafting worker",
	Long: `bookdraft drafts textbook sections into a stored book skeleton.

Jobs are queued as job_run rows and advanced one bounded tick at a time,
either by the local poll worker or by Temporal when TEMPORAL_ADDRESS is set.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	rootCmd.AddCommand(workerCmd, enqueueCmd, compileCmd, watchCmd)
}

// withApp builds the app under a signal-aware context and closes it after fn.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
