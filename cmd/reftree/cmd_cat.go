package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/reftree/pkg/files"
)

func newCatCmd(g *globalFlags) *cobra.Command {
	var text bool
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, g, func(ctx context.Context, svc *files.Service) error {
				out := cmd.OutOrStdout()
				if text {
					s, err := svc.Read(ctx, args[0])
					if err != nil {
						return err
					}
					_, err = io.WriteString(out, s)
					return err
				}
				data, err := svc.ReadBytes(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&text, "text", false, "decode as UTF-8, replacing invalid bytes")
	return cmd
}
