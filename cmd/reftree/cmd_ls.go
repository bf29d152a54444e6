package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/odvcencio/reftree/pkg/files"
	"github.com/odvcencio/reftree/pkg/repo"
)

func newLsCmd(g *globalFlags) *cobra.Command {
	var asJSON, color bool
	cmd := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, g, func(ctx context.Context, svc *files.Service) error {
				listing, err := svc.List(ctx)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					if listing, err = subListing(listing, args[0]); err != nil {
						return err
					}
				}
				out := cmd.OutOrStdout()
				if !asJSON {
					for _, p := range listing.Paths() {
						fmt.Fprintln(out, p)
					}
					return nil
				}
				raw, err := json.Marshal(listing)
				if err != nil {
					return err
				}
				raw = pretty.Pretty(raw)
				if color {
					raw = pretty.Color(raw, nil)
				}
				_, err = out.Write(raw)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the nested listing as JSON")
	cmd.Flags().BoolVar(&color, "color", false, "colorize JSON output")
	return cmd
}

// subListing descends into dir within l.
func subListing(l files.Listing, dir string) (files.Listing, error) {
	segments, err := repo.SplitPath(dir)
	if err != nil {
		return nil, err
	}
	for i, name := range segments {
		sub, ok := l[name]
		if !ok {
			return nil, &repo.PathError{Phase: repo.PhaseWalk, Path: repo.JoinPath(segments[:i+1]), Kind: repo.ErrNotFound}
		}
		if sub == nil {
			return nil, &repo.PathError{Phase: repo.PhaseWalk, Path: repo.JoinPath(segments[:i+1]), Kind: repo.ErrNotADirectory}
		}
		l = sub
	}
	return l, nil
}
