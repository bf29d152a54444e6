package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/odvcencio/reftree/pkg/session"
)

// fileConfig is the TOML config file:
//
//	remote = "gothub:alice/notes"
//	ref = "main"
//	token = "..."
//	signing_key = "~/.ssh/id_ed25519"
//	timeout = "30s"
//
//	[author]
//	name = "Alice"
//	email = "alice@example.com"
type fileConfig struct {
	Remote     string       `toml:"remote"`
	Ref        string       `toml:"ref"`
	Token      string       `toml:"token"`
	SigningKey string       `toml:"signing_key"`
	Timeout    string       `toml:"timeout"`
	Author     authorConfig `toml:"author"`
}

type authorConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// loadConfig reads path. A missing file is an empty config.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fileConfig{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	config      string
	remote      string
	ref         string
	token       string
	authorName  string
	authorEmail string
	signingKey  string
	timeout     time.Duration
	verbose     bool
}

func (g *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "TOML config file (default $REFTREE_CONFIG)")
	pf.StringVarP(&g.remote, "remote", "R", "", "origin URL or host:owner/repo shorthand ($REFTREE_REMOTE)")
	pf.StringVar(&g.ref, "ref", "", "ref to edit ($REFTREE_REF, default main)")
	pf.StringVar(&g.token, "token", "", "bearer token ($REFTREE_TOKEN or $GOT_TOKEN)")
	pf.StringVar(&g.authorName, "author-name", "", "author name recorded on new versions")
	pf.StringVar(&g.authorEmail, "author-email", "", "author email recorded on new versions")
	pf.StringVar(&g.signingKey, "signing-key", "", "SSH private key used to sign new versions")
	pf.DurationVar(&g.timeout, "timeout", 0, "per-request timeout")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "development logging")
}

// options layers the config file, then the environment, then explicitly
// set flags.
func (g *globalFlags) options(cmd *cobra.Command) (session.Options, error) {
	path := g.config
	if path == "" {
		path = os.Getenv("REFTREE_CONFIG")
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return session.Options{}, err
	}

	opts := session.Options{
		URI:            cfg.Remote,
		Ref:            cfg.Ref,
		Credential:     cfg.Token,
		AuthorName:     cfg.Author.Name,
		AuthorEmail:    cfg.Author.Email,
		SigningKeyPath: expandHome(cfg.SigningKey),
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return session.Options{}, fmt.Errorf("config timeout: %w", err)
		}
		opts.Timeout = d
	}

	envOverride(&opts.URI, "REFTREE_REMOTE")
	envOverride(&opts.Ref, "REFTREE_REF")
	envOverride(&opts.Credential, "GOT_TOKEN")
	envOverride(&opts.Credential, "REFTREE_TOKEN")

	flags := cmd.Flags()
	flagOverride(flags.Changed("remote"), &opts.URI, g.remote)
	flagOverride(flags.Changed("ref"), &opts.Ref, g.ref)
	flagOverride(flags.Changed("token"), &opts.Credential, g.token)
	flagOverride(flags.Changed("author-name"), &opts.AuthorName, g.authorName)
	flagOverride(flags.Changed("author-email"), &opts.AuthorEmail, g.authorEmail)
	flagOverride(flags.Changed("signing-key"), &opts.SigningKeyPath, expandHome(g.signingKey))
	if flags.Changed("timeout") {
		opts.Timeout = g.timeout
	}

	if opts.URI == "" {
		return session.Options{}, fmt.Errorf("no remote: set --remote, $REFTREE_REMOTE or remote in the config file")
	}
	uri, err := expandRemote(opts.URI)
	if err != nil {
		return session.Options{}, err
	}
	opts.URI = uri
	return opts, nil
}

func envOverride(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func flagOverride(changed bool, dst *string, v string) {
	if changed {
		*dst = v
	}
}

func expandHome(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + string(os.PathSeparator) + rest
}
