package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/reftree/pkg/files"
	"github.com/odvcencio/reftree/pkg/repo"
)

func newLogCmd(g *globalFlags) *cobra.Command {
	var oneline bool
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the versions known to a fresh mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, g, func(ctx context.Context, svc *files.Service) error {
				history, err := svc.History(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, v := range history {
					c := v.Commit
					if oneline {
						fmt.Fprintf(out, "%s %s\n", v.Hash.Short(), firstLine(c.Message))
						continue
					}
					fmt.Fprintf(out, "commit %s\n", v.Hash)
					fmt.Fprintf(out, "Author: %s\n", c.Author)
					fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).UTC().Format("2006-01-02 15:04:05"))
					if c.Signature != "" {
						if pub, err := repo.VerifyCommitSignature(c); err == nil {
							fmt.Fprintf(out, "Signed: %s\n", ssh.FingerprintSHA256(pub))
						} else {
							fmt.Fprintf(out, "Signed: BAD (%v)\n", err)
						}
					}
					fmt.Fprintln(out)
					fmt.Fprintf(out, "    %s\n", c.Message)
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of versions to show")
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
