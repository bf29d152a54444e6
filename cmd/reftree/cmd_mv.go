package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/odvcencio/reftree/pkg/files"
)

func newMvCmd(g *globalFlags) *cobra.Command {
	var opts files.RenameOptions
	cmd := &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, g, func(ctx context.Context, svc *files.Service) error {
				res, err := svc.Rename(ctx, args[0], args[1], opts)
				return report(ctx, cmd, svc, res, err)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "version message")
	cmd.Flags().BoolVar(&opts.FailIfExists, "no-clobber", false, "fail if the destination exists")
	return cmd
}
