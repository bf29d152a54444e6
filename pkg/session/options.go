package session

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/reftree/pkg/repo"
)

const (
	DefaultRef         = "refs/heads/main"
	DefaultAuthorName  = "reftree"
	DefaultAuthorEmail = "noreply@reftree.invalid"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 3
)

// Options enumerates everything a session is built from. Zero fields take
// the defaults above.
type Options struct {
	// URI is the origin repository endpoint.
	URI string
	// Ref is the branch to track, either short ("main") or full
	// ("refs/heads/main").
	Ref string
	// Credential is sent to the origin as a bearer token.
	Credential string

	AuthorName     string
	AuthorEmail    string
	SigningKeyPath string // optional SSH private key for commit signatures

	// SkipPush keeps writes local until Push is called explicitly.
	SkipPush bool

	Timeout     time.Duration
	MaxAttempts int
	TempDir     string // parent of the mirror directory; os.TempDir() when empty

	Logger *zap.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	o.URI = strings.TrimSpace(o.URI)
	o.Ref = strings.TrimSpace(o.Ref)
	if o.Ref == "" {
		o.Ref = DefaultRef
	}
	o.Ref = repo.FullRefName(o.Ref)
	if strings.TrimSpace(o.AuthorName) == "" {
		o.AuthorName = DefaultAuthorName
	}
	if strings.TrimSpace(o.AuthorEmail) == "" {
		o.AuthorEmail = DefaultAuthorEmail
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) validate() error {
	if o.URI == "" {
		return fmt.Errorf("session: origin URI is required")
	}
	name := strings.TrimPrefix(o.Ref, "refs/")
	if name == "" || strings.HasSuffix(name, "/") || strings.Contains(name, "..") || strings.ContainsAny(name, " \t\n\x00~^:?*[\\") {
		return fmt.Errorf("session: invalid ref name %q", o.Ref)
	}
	return nil
}

// Author is the commit author line, "Name <email>".
func (o Options) Author() string {
	return fmt.Sprintf("%s <%s>", strings.TrimSpace(o.AuthorName), strings.TrimSpace(o.AuthorEmail))
}

// remoteRefName is the ref as the origin names it, relative to refs/.
func remoteRefName(fullRef string) string {
	return strings.TrimPrefix(fullRef, "refs/")
}

// trackingRefName maps a branch to its remote-tracking ref. Every segment
// after refs/heads/ is kept, so refs/heads/feature/x tracks as
// refs/remotes/origin/feature/x; other namespaces keep their prefix.
func trackingRefName(fullRef string) string {
	short := strings.TrimPrefix(remoteRefName(fullRef), "heads/")
	return "refs/remotes/origin/" + short
}
