package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/reftree/pkg/files"
	"github.com/odvcencio/reftree/pkg/session"
)

func newPutCmd(g *globalFlags) *cobra.Command {
	var (
		opts         files.WriteOptions
		exec, noExec bool
	)
	cmd := &cobra.Command{
		Use:   "put <path> [file]",
		Short: "Write a file from a local file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 2 {
				src = args[1]
			}
			content, err := readSource(cmd, src)
			if err != nil {
				return err
			}
			switch {
			case exec:
				opts.Mode = files.Executable
			case noExec:
				opts.Mode = files.Regular
			}
			return withService(cmd, g, func(ctx context.Context, svc *files.Service) error {
				res, err := svc.Write(ctx, args[0], content, opts)
				return report(ctx, cmd, svc, res, err)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "version message")
	cmd.Flags().BoolVar(&opts.FailIfExists, "create", false, "fail if the file already exists")
	cmd.Flags().BoolVar(&opts.FailIfMissing, "must-exist", false, "fail if the file does not exist")
	cmd.Flags().BoolVar(&exec, "exec", false, "mark the file executable")
	cmd.Flags().BoolVar(&noExec, "no-exec", false, "clear the executable bit")
	cmd.Flags().BoolVar(&opts.Base64, "base64", false, "input is base64 encoded")
	cmd.MarkFlagsMutuallyExclusive("create", "must-exist")
	cmd.MarkFlagsMutuallyExclusive("exec", "no-exec")
	return cmd
}

func readSource(cmd *cobra.Command, src string) (string, error) {
	var (
		data []byte
		err  error
	)
	if src == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}
	return string(data), nil
}

// report prints the version a write produced. A rejected push still
// prints the local version before returning the error.
func report(ctx context.Context, cmd *cobra.Command, svc *files.Service, res files.Result, err error) error {
	if res.Commit == "" {
		return err
	}
	message := ""
	if history, herr := svc.History(ctx, 1); herr == nil && len(history) == 1 {
		message = firstLine(history[0].Commit.Message)
	}
	ref := strings.TrimPrefix(res.Ref, "refs/heads/")
	fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", ref, res.Commit.Short(), message)
	if errors.Is(err, session.ErrPushRejected) {
		return fmt.Errorf("%w\nthe origin was not updated; the version above is discarded when this command exits", err)
	}
	return err
}
