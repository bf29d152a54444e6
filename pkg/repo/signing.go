package repo

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/odvcencio/reftree/pkg/object"
	"golang.org/x/crypto/ssh"
)

const commitSignaturePrefix = "sshsig-v1"

var ErrBadSignature = errors.New("bad commit signature")

// NewSSHCommitSigner loads an unencrypted SSH private key from keyPath.
func NewSSHCommitSigner(keyPath string) (CommitSigner, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key %q: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %q: %w", keyPath, err)
	}
	return CommitSignerFromSSH(signer), nil
}

// CommitSignerFromSSH signs commits with signer. The signature string is
// sshsig-v1:<format>:<base64 public key>:<base64 signature>.
func CommitSignerFromSSH(signer ssh.Signer) CommitSigner {
	pubB64 := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())
	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		sigB64 := base64.StdEncoding.EncodeToString(sig.Blob)
		return fmt.Sprintf("%s:%s:%s:%s", commitSignaturePrefix, sig.Format, pubB64, sigB64), nil
	}
}

// signedBytes is what a commit signature covers: the serialized commit
// with its signature header left out.
func signedBytes(c *object.CommitObj) []byte {
	unsigned := *c
	unsigned.Signature = ""
	return object.MarshalCommit(&unsigned)
}

// VerifyCommitSignature checks c.Signature against the embedded public key
// and returns that key.
func VerifyCommitSignature(c *object.CommitObj) (ssh.PublicKey, error) {
	parts := strings.Split(c.Signature, ":")
	if len(parts) != 4 || parts[0] != commitSignaturePrefix {
		return nil, fmt.Errorf("%w: unrecognized format", ErrBadSignature)
	}
	pubRaw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrBadSignature, err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrBadSignature, err)
	}
	blob, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrBadSignature, err)
	}
	sig := &ssh.Signature{Format: parts[1], Blob: blob}
	if err := pub.Verify(signedBytes(c), sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return pub, nil
}
