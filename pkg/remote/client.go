package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/reftree/pkg/object"
)

// ErrRefConflict is returned by UpdateRefs when a ref no longer holds the
// expected old value on the remote.
var ErrRefConflict = errors.New("remote ref conflict")

// Endpoint identifies a Got protocol repository endpoint.
// BaseURL is normalized to ".../got/{owner}/{repo}" with no trailing slash.
type Endpoint struct {
	Raw     string
	BaseURL string
	Owner   string
	Repo    string
	user    string
	pass    string
}

// ParseEndpoint parses a remote URL into a canonical endpoint.
//
// Supported inputs include:
// - https://host/got/owner/repo
// - https://host/owner/repo (expanded to /got/owner/repo)
// - https://host/api/v1/got/owner/repo
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include scheme and host")
	}

	segments := splitPathSegments(u.Path)
	if len(segments) < 2 {
		return Endpoint{}, fmt.Errorf("remote URL must include owner and repository")
	}

	gotIdx := -1
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "got" {
			gotIdx = i
		}
	}

	var owner, repo string
	var baseSegments []string
	if gotIdx >= 0 {
		owner = segments[gotIdx+1]
		repo = segments[gotIdx+2]
		baseSegments = append(baseSegments, segments[:gotIdx+3]...)
	} else {
		owner = segments[len(segments)-2]
		repo = segments[len(segments)-1]
		baseSegments = append(baseSegments, segments[:len(segments)-2]...)
		baseSegments = append(baseSegments, "got", owner, repo)
	}

	endpointURL := *u
	endpointURL.Path = "/" + strings.Join(baseSegments, "/")
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	user := ""
	pass := ""
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(endpointURL.String(), "/"),
		Owner:   owner,
		Repo:    repo,
		user:    user,
		pass:    pass,
	}, nil
}

// Redacted returns the endpoint URL without credentials, for logs.
func (e Endpoint) Redacted() string {
	return e.BaseURL
}

func splitPathSegments(p string) []string {
	p = strings.TrimSpace(path.Clean(p))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// ObjectRecord is an object payload used by push/pull operations.
type ObjectRecord struct {
	Hash object.Hash
	Type object.ObjectType
	Data []byte
}

// wireObject is the JSON form of an ObjectRecord.
type wireObject struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// RefUpdate is one atomic reference update request. A nil Old requires the
// ref to be absent on the remote.
type RefUpdate struct {
	Name string
	Old  *object.Hash
	New  object.Hash
}

// ClientOptions configures the remote protocol client.
type ClientOptions struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // retry attempts (default 3)

	// Credential is sent as a bearer token. When empty, credentials embedded
	// in the URL are sent as basic auth.
	Credential string
}

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20  // 2MB
	responseLimitRefs    = 8 << 20  // 8MB
	responseLimitBatch   = 64 << 20 // 64MB
	responseLimitObject  = 32 << 20 // 32MB
)

// Client is a transport client for the Got object protocol.
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	token       string
	user        string
	pass        string
	maxAttempts int

	mu   sync.Mutex
	caps map[string]bool
}

// NewClient creates a remote protocol client with default options.
func NewClient(remoteURL string) (*Client, error) {
	return NewClientWithOptions(remoteURL, ClientOptions{})
}

// NewClientWithOptions creates a remote protocol client with configurable options.
// Zero-value or negative fields in opts receive defaults (60s timeout, 3 attempts).
func NewClientWithOptions(remoteURL string, opts ClientOptions) (*Client, error) {
	endpoint, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		token:       strings.TrimSpace(opts.Credential),
		maxAttempts: opts.MaxAttempts,
	}
	if c.token == "" {
		c.user = endpoint.user
		c.pass = endpoint.pass
	}
	return c, nil
}

// Endpoint returns the parsed endpoint metadata.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// supports reports whether the last response that advertised capabilities
// agreed on name.
func (c *Client) supports(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps[name]
}

// ListRefs returns all remote refs keyed by name relative to refs/
// (e.g. heads/main).
func (c *Client) ListRefs(ctx context.Context) (map[string]object.Hash, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/refs", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doWithLimit(req, http.StatusOK, responseLimitRefs, "application/json")
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode refs response: %w", err)
	}
	refs := make(map[string]object.Hash, len(raw))
	for name, hash := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h := object.Hash(strings.TrimSpace(hash))
		if err := checkHash(h); err != nil {
			return nil, fmt.Errorf("invalid hash for ref %q: %w", name, err)
		}
		refs[name] = h
	}
	return refs, nil
}

// BatchObjects fetches missing objects reachable from wants and not in haves.
// With shallow set the server is asked not to follow commit parents.
func (c *Client) BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int, shallow bool) ([]ObjectRecord, bool, error) {
	reqBody := struct {
		Wants      []string `json:"wants"`
		Haves      []string `json:"haves,omitempty"`
		MaxObjects int      `json:"max_objects,omitempty"`
		Shallow    bool     `json:"shallow,omitempty"`
	}{
		Wants:      make([]string, 0, len(wants)),
		Haves:      make([]string, 0, len(haves)),
		MaxObjects: maxObjects,
		Shallow:    shallow,
	}
	for _, h := range wants {
		if strings.TrimSpace(string(h)) != "" {
			reqBody.Wants = append(reqBody.Wants, string(h))
		}
	}
	for _, h := range haves {
		if strings.TrimSpace(string(h)) != "" {
			reqBody.Haves = append(reqBody.Haves, string(h))
		}
	}
	if len(reqBody.Wants) == 0 {
		return nil, false, fmt.Errorf("at least one non-empty want hash is required")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/objects/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "zstd")

	body, err := c.doWithLimit(req, http.StatusOK, responseLimitBatch, "application/json")
	if err != nil {
		return nil, false, err
	}

	var resp struct {
		Objects   []wireObject `json:"objects"`
		Truncated bool         `json:"truncated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("decode batch response: %w", err)
	}

	out := make([]ObjectRecord, 0, len(resp.Objects))
	for _, obj := range resp.Objects {
		objType, err := object.ParseObjectType(obj.Type)
		if err != nil {
			return nil, false, err
		}
		h := object.Hash(strings.TrimSpace(obj.Hash))
		if err := checkHash(h); err != nil {
			return nil, false, fmt.Errorf("invalid hash in batch response: %w", err)
		}
		out = append(out, ObjectRecord{
			Hash: h,
			Type: objType,
			Data: obj.Data,
		})
	}
	return out, resp.Truncated, nil
}

// GetObject fetches one object by hash.
func (c *Client) GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error) {
	hash = object.Hash(strings.TrimSpace(string(hash)))
	if err := checkHash(hash); err != nil {
		return ObjectRecord{}, fmt.Errorf("get object: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/objects/"+string(hash), nil)
	if err != nil {
		return ObjectRecord{}, err
	}
	resp, body, err := c.send(req, responseLimitObject)
	if err != nil {
		return ObjectRecord{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ObjectRecord{}, statusError(req, resp, body)
	}

	objType, err := object.ParseObjectType(resp.Header.Get("X-Object-Type"))
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("decode object %s: %w", hash, err)
	}
	return ObjectRecord{
		Hash: hash,
		Type: objType,
		Data: body,
	}, nil
}

// PushObjects uploads objects as newline-delimited JSON. The payload is
// zstd-compressed when the server has advertised zstd.
func (c *Client) PushObjects(ctx context.Context, objects []ObjectRecord) error {
	if len(objects) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, obj := range objects {
		if _, err := object.ParseObjectType(string(obj.Type)); err != nil {
			return fmt.Errorf("push object %d: %w", i, err)
		}
		computedHash := object.HashObject(obj.Type, obj.Data)
		if provided := object.Hash(strings.TrimSpace(string(obj.Hash))); provided != "" && provided != computedHash {
			return fmt.Errorf("push object %d: hash mismatch (provided %s, computed %s)", i, provided, computedHash)
		}
		payload := wireObject{
			Hash: string(computedHash),
			Type: string(obj.Type),
			Data: obj.Data,
		}
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("push object %d: encode: %w", i, err)
		}
	}

	body := buf.Bytes()
	compressed := c.supports(capZstd)
	if compressed {
		var err error
		if body, err = encodeZstd(body); err != nil {
			return fmt.Errorf("push objects: compress: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/objects", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if compressed {
		req.Header.Set("Content-Encoding", "zstd")
	}

	if _, err := c.doWithLimit(req, http.StatusOK, responseLimitDefault, "application/json"); err != nil {
		return err
	}
	return nil
}

// UpdateRefs applies atomic CAS updates on the remote refs. A rejected
// compare-and-swap is reported as ErrRefConflict.
func (c *Client) UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("at least one ref update is required")
	}

	type refUpdatePayload struct {
		Name string  `json:"name"`
		Old  *string `json:"old"`
		New  string  `json:"new"`
	}
	payload := struct {
		Updates []refUpdatePayload `json:"updates"`
	}{
		Updates: make([]refUpdatePayload, 0, len(updates)),
	}
	for _, u := range updates {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return nil, fmt.Errorf("ref update name is required")
		}
		if err := checkHash(u.New); err != nil {
			return nil, fmt.Errorf("ref update %q: %w", name, err)
		}
		var oldStr *string
		if u.Old != nil {
			v := strings.TrimSpace(string(*u.Old))
			oldStr = &v
		}
		payload.Updates = append(payload.Updates, refUpdatePayload{
			Name: name,
			Old:  oldStr,
			New:  string(u.New),
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/refs", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doWithLimit(req, http.StatusOK, responseLimitDefault, "application/json")
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %v", ErrRefConflict, re)
		}
		return nil, err
	}
	var resp struct {
		Updated map[string]string `json:"updated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ref update response: %w", err)
	}

	out := make(map[string]object.Hash, len(resp.Updated))
	for name, hash := range resp.Updated {
		out[name] = object.Hash(strings.TrimSpace(hash))
	}
	return out, nil
}

func (c *Client) doWithLimit(req *http.Request, expectedStatus int, maxBytes int64, expectedContentType string) ([]byte, error) {
	resp, body, err := c.send(req, maxBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != expectedStatus {
		return nil, statusError(req, resp, body)
	}

	// Validate content type on success responses before returning body.
	if expectedContentType != "" {
		ct := resp.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, expectedContentType) {
			return nil, fmt.Errorf("unexpected content type %q (expected %s) from %s %s (status %d)",
				ct, expectedContentType, req.Method, req.URL.Path, resp.StatusCode)
		}
	}

	return body, nil
}

// send performs req with retries and returns the decoded response body.
func (c *Client) send(req *http.Request, maxBytes int64) (*http.Response, []byte, error) {
	c.applyAuth(req)
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if caps := resp.Header.Get(headerCapabilities); caps != "" {
		c.mu.Lock()
		c.caps = negotiateCaps(caps)
		c.mu.Unlock()
	}

	var reader io.Reader = resp.Body
	if zstdEncoded(resp.Header.Get("Content-Encoding")) {
		zr, err := decodeZstd(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
		}
		defer zr.Close()
		reader = zr
	}
	body, err := io.ReadAll(io.LimitReader(reader, maxBytes))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func statusError(req *http.Request, resp *http.Response, body []byte) error {
	if re := decodeRemoteError(resp.StatusCode, body); re != nil {
		return re
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &RemoteError{
		StatusCode: resp.StatusCode,
		Code:       strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_")),
		Message:    fmt.Sprintf("remote request failed (%s %s): %s", req.Method, req.URL.Path, msg),
	}
}

func (c *Client) applyAuth(req *http.Request) {
	req.Header.Set(headerProtocol, protocolVersion)
	req.Header.Set(headerCapabilities, strings.Join(clientCaps, ","))

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if strings.TrimSpace(c.user) != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}
