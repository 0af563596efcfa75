package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/bookdraft-backend/internal/app"
)

var compileCmd = &cobra.Command{
	Use:   "compile <book-id> <version-id>",
	Short: "Rebuild canonical.json from the stored skeleton",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			key, err := a.CompileCanonical(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		})
	},
}
