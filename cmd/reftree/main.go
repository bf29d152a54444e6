package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"github.com/odvcencio/reftree/pkg/files"
	"github.com/odvcencio/reftree/pkg/session"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "reftree",
		Short:         "Read and edit the files of a remote ref without a checkout",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(root)

	root.AddCommand(newVersionCmd())
	root.AddCommand(newLsCmd(g))
	root.AddCommand(newCatCmd(g))
	root.AddCommand(newPutCmd(g))
	root.AddCommand(newRmCmd(g))
	root.AddCommand(newMvCmd(g))
	root.AddCommand(newLogCmd(g))
	root.AddCommand(newReflogCmd(g))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			version := "(devel)"
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				version = info.Main.Version
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reftree", version)
		},
	}
}

func (g *globalFlags) logger() (*zap.Logger, error) {
	if g.verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// withService opens a session on the configured remote, runs fn against it
// and discards the mirror afterwards.
func withService(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, svc *files.Service) error) error {
	opts, err := g.options(cmd)
	if err != nil {
		return err
	}
	log, err := g.logger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	opts.Logger = log

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logctx.NewContext(ctx, log)

	s, err := session.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logctx.Error(ctx, "close session", zap.Error(err))
		}
	}()
	return fn(ctx, files.New(s))
}
