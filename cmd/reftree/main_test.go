package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/odvcencio/reftree/pkg/remote/remotetest"
	"github.com/odvcencio/reftree/pkg/repo"
	"github.com/odvcencio/reftree/pkg/session"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"REFTREE_CONFIG", "REFTREE_REMOTE", "REFTREE_REF", "REFTREE_TOKEN", "GOT_TOKEN"} {
		t.Setenv(key, "")
	}
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	if err != nil {
		t.Fatalf("reftree %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestCommandsEditRemoteTree(t *testing.T) {
	clearEnv(t)
	origin := remotetest.New(t, "alice", "notes")
	origin.Commit(t, "heads/main", map[string]string{"README.md": "hello\n"}, "init")
	remote := []string{"--remote", origin.URL()}

	out := mustRun(t, "new body\n", append(remote, "put", "docs/a.txt", "-m", "add a")...)
	if !strings.HasPrefix(out, "[main ") || !strings.HasSuffix(out, "] add a\n") {
		t.Fatalf("put output = %q", out)
	}
	if got := origin.Files(t, "heads/main")["docs/a.txt"]; got != "new body\n" {
		t.Fatalf("origin docs/a.txt = %q", got)
	}

	if out := mustRun(t, "", append(remote, "cat", "docs/a.txt")...); out != "new body\n" {
		t.Fatalf("cat = %q", out)
	}
	if out := mustRun(t, "", append(remote, "ls")...); out != "README.md\ndocs/a.txt\n" {
		t.Fatalf("ls = %q", out)
	}
	if out := mustRun(t, "", append(remote, "ls", "docs")...); out != "a.txt\n" {
		t.Fatalf("ls docs = %q", out)
	}

	var listing map[string]any
	if err := json.Unmarshal([]byte(mustRun(t, "", append(remote, "ls", "--json")...)), &listing); err != nil {
		t.Fatalf("ls --json: %v", err)
	}
	if v, ok := listing["README.md"]; !ok || v != nil {
		t.Fatalf("README.md listing = %v, %v", v, ok)
	}

	mustRun(t, "", append(remote, "mv", "docs/a.txt", "b.txt")...)
	out = mustRun(t, "", append(remote, "rm", "README.md")...)
	if !strings.HasSuffix(out, "] Delete README.md\n") {
		t.Fatalf("rm output = %q", out)
	}
	files := origin.Files(t, "heads/main")
	if len(files) != 1 || files["b.txt"] != "new body\n" {
		t.Fatalf("origin files = %v", files)
	}

	out = mustRun(t, "", append(remote, "log", "--oneline")...)
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || !strings.HasSuffix(lines[0], " Delete README.md") {
		t.Fatalf("log of a fresh shallow mirror = %q", out)
	}
}

func TestCommandsReportErrors(t *testing.T) {
	clearEnv(t)
	origin := remotetest.New(t, "alice", "notes")
	origin.Commit(t, "heads/main", map[string]string{"dir/f.txt": "f"}, "init")
	remote := []string{"--remote", origin.URL()}

	if _, err := run(t, "", append(remote, "cat", "dir")...); !errors.Is(err, repo.ErrIsADirectory) {
		t.Fatalf("cat dir: err = %v, want ErrIsADirectory", err)
	}
	if _, err := run(t, "", append(remote, "cat", "missing")...); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cat missing: err = %v, want ErrNotFound", err)
	}
	if _, err := run(t, "x", append(remote, "put", "--create", "dir/f.txt")...); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("put --create: err = %v, want ErrConflict", err)
	}
	if _, err := run(t, "", append(remote, "ls", "dir/f.txt")...); !errors.Is(err, repo.ErrNotADirectory) {
		t.Fatalf("ls file: err = %v, want ErrNotADirectory", err)
	}

	origin.RejectPushes(true)
	out, err := run(t, "x", append(remote, "put", "g.txt")...)
	if !errors.Is(err, session.ErrPushRejected) {
		t.Fatalf("put: err = %v, want ErrPushRejected", err)
	}
	if !strings.Contains(out, "] Update g.txt") {
		t.Fatalf("rejected put should still report the local version, got %q", out)
	}
}

func TestPutFromFileWithToken(t *testing.T) {
	clearEnv(t)
	origin := remotetest.New(t, "alice", "notes")
	origin.RequireToken("s3cret")
	t.Setenv("GOT_TOKEN", "s3cret")

	src := filepath.Join(t.TempDir(), "run.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustRun(t, "", "--remote", origin.URL(), "put", "--exec", "bin/run.sh", src)
	if got := origin.Files(t, "heads/main")["bin/run.sh"]; got != "#!/bin/sh\n" {
		t.Fatalf("origin bin/run.sh = %q", got)
	}

	t.Setenv("REFTREE_TOKEN", "wrong")
	if _, err := run(t, "", "--remote", origin.URL(), "ls"); !errors.Is(err, session.ErrRemoteUnavailable) {
		t.Fatalf("REFTREE_TOKEN should win over GOT_TOKEN, err = %v", err)
	}
}

func TestReflogAndModeFlags(t *testing.T) {
	clearEnv(t)
	origin := remotetest.New(t, "alice", "notes")
	tip := origin.Commit(t, "heads/main", map[string]string{"run.sh": "#!/bin/sh\n"}, "init")
	remote := []string{"--remote", origin.URL()}

	out := mustRun(t, "", append(remote, "reflog")...)
	want := tip.Short() + " 20"
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || !strings.HasPrefix(lines[0], want) || !strings.HasSuffix(lines[0], " refs/heads/main fetch") {
		t.Fatalf("reflog of a fresh mirror = %q", out)
	}

	if _, err := run(t, "x", append(remote, "put", "--exec", "--no-exec", "run.sh")...); err == nil {
		t.Fatal("--exec with --no-exec should fail")
	}
	mustRun(t, "#!/bin/sh\nexit 0\n", append(remote, "put", "--no-exec", "run.sh")...)
	if got := origin.Files(t, "heads/main")["run.sh"]; got != "#!/bin/sh\nexit 0\n" {
		t.Fatalf("origin run.sh = %q", got)
	}
}

func parsedFlags(t *testing.T, args ...string) (*cobra.Command, *globalFlags) {
	t.Helper()
	g := &globalFlags{}
	cmd := &cobra.Command{Use: "test"}
	g.register(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd, g
}

func TestOptionsLayering(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reftree.toml")
	config := `
remote = "code.example.com:alice/notes"
ref = "from-file"
token = "file-token"
timeout = "7s"

[author]
name = "Alice"
email = "alice@example.com"
`
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REFTREE_CONFIG", path)

	cmd, g := parsedFlags(t)
	opts, err := g.options(cmd)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.URI != "https://code.example.com/got/alice/notes" || opts.Ref != "from-file" || opts.Credential != "file-token" {
		t.Fatalf("file options = %+v", opts)
	}
	if opts.AuthorName != "Alice" || opts.AuthorEmail != "alice@example.com" || opts.Timeout.Seconds() != 7 {
		t.Fatalf("file author/timeout = %+v", opts)
	}

	t.Setenv("REFTREE_REF", "from-env")
	t.Setenv("REFTREE_TOKEN", "env-token")
	cmd, g = parsedFlags(t)
	if opts, err = g.options(cmd); err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Ref != "from-env" || opts.Credential != "env-token" {
		t.Fatalf("env should override file: %+v", opts)
	}

	cmd, g = parsedFlags(t, "--ref", "from-flag", "--remote", "https://other.example.com/got/b/c")
	if opts, err = g.options(cmd); err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Ref != "from-flag" || opts.URI != "https://other.example.com/got/b/c" || opts.Credential != "env-token" {
		t.Fatalf("flags should override env: %+v", opts)
	}
}

func TestOptionsErrors(t *testing.T) {
	clearEnv(t)
	cmd, g := parsedFlags(t)
	if _, err := g.options(cmd); err == nil {
		t.Fatal("expected error without a remote")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("remote = \"gothub:a/b\"\nbogus = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd, g = parsedFlags(t, "--config", path)
	if _, err := g.options(cmd); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("unknown key: err = %v", err)
	}

	cmd, g = parsedFlags(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "--remote", "gothub:a/b")
	if _, err := g.options(cmd); err != nil {
		t.Fatalf("missing config file should be ignored: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, "", "version")
	if !strings.HasPrefix(out, "reftree ") {
		t.Fatalf("version = %q", out)
	}
}
