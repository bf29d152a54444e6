package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/odvcencio/reftree/pkg/files"
)

func newRmCmd(g *globalFlags) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, g, func(ctx context.Context, svc *files.Service) error {
				res, err := svc.Remove(ctx, args[0], message)
				return report(ctx, cmd, svc, res, err)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "version message")
	return cmd
}
