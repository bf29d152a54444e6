package remote

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/reftree/pkg/object"
)

const (
	protocolVersion    = "1"
	headerProtocol     = "Got-Protocol"
	headerCapabilities = "Got-Capabilities"

	capShallow = "shallow"
	capZstd    = "zstd"
)

// clientCaps is advertised on every request, in this order.
var clientCaps = []string{capShallow, capZstd}

// negotiateCaps keeps the names in a server's comma separated advertisement
// that this client also speaks.
func negotiateCaps(advertised string) map[string]bool {
	agreed := make(map[string]bool, len(clientCaps))
	for name := range strings.SplitSeq(advertised, ",") {
		name = strings.TrimSpace(name)
		for _, ours := range clientCaps {
			if name == ours {
				agreed[name] = true
			}
		}
	}
	return agreed
}

// checkHash accepts only a lowercase hex SHA-256 digest, the form object
// names take on the wire and in the store.
func checkHash(h object.Hash) error {
	const size = 2 * sha256.Size
	if len(h) != size {
		return fmt.Errorf("object name %q: %d characters, want %d", h, len(h), size)
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("object name %q: %q is not a lowercase hex digit", h, c)
		}
	}
	return nil
}

// RemoteError is an error response from the origin.
type RemoteError struct {
	StatusCode int `json:"-"`

	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	return b.String()
}

// decodeRemoteError reads a JSON error body. Bodies that are not JSON, or
// carry neither a code nor a message, yield nil.
func decodeRemoteError(status int, body []byte) *RemoteError {
	re := &RemoteError{StatusCode: status}
	if json.Unmarshal(body, re) != nil || (re.Code == "" && re.Message == "") {
		return nil
	}
	return re
}
