// Package remotetest provides an httptest origin speaking the object
// protocol of package remote, backed by an object.Store.
package remotetest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/odvcencio/reftree/pkg/object"
)

// Server is a single-repository origin. Refs are keyed relative to refs/,
// e.g. "heads/main".
type Server struct {
	ts     *httptest.Server
	prefix string
	store  *object.Store

	mu          sync.Mutex
	refs        map[string]object.Hash
	token       string
	unavailable bool
	rejectPush  bool
	requests    map[string]int
	pushed      []object.Hash
}

// New starts a server for owner/repo and closes it when the test ends.
func New(t testing.TB, owner, repo string) *Server {
	t.Helper()
	s := &Server{
		prefix:   "/got/" + owner + "/" + repo,
		store:    object.NewStore(t.TempDir()),
		refs:     make(map[string]object.Hash),
		requests: make(map[string]int),
	}
	s.ts = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.ts.Close)
	return s
}

// URL is the repository endpoint to hand to remote.NewClient.
func (s *Server) URL() string { return s.ts.URL + s.prefix }

// Store exposes the origin's object store.
func (s *Server) Store() *object.Store { return s.store }

// RequireToken makes every request without "Bearer token" fail with 401.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetUnavailable makes every request fail with 503.
func (s *Server) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// RejectPushes makes ref updates fail with 403.
func (s *Server) RejectPushes(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectPush = v
}

// Requests returns how many requests hit route, e.g. "POST /objects".
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Pushed returns the hashes received through POST /objects, in order.
func (s *Server) Pushed() []object.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]object.Hash(nil), s.pushed...)
}

// Ref returns the current value of name.
func (s *Server) Ref(name string) (object.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.refs[name]
	return h, ok
}

// SetRef moves name unconditionally.
func (s *Server) SetRef(name string, h object.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[name] = h
}

// Commit writes files (path -> content) as a new snapshot on top of ref and
// moves ref to it.
func (s *Server) Commit(t testing.TB, ref string, files map[string]string, message string) object.Hash {
	t.Helper()
	tree, err := writeFiles(s.store, files)
	if err != nil {
		t.Fatalf("remotetest: write tree: %v", err)
	}
	c := &object.CommitObj{
		TreeHash:  tree,
		Author:    "origin <origin@example.com>",
		Timestamp: 1700000000,
		Message:   message,
	}
	if parent, ok := s.Ref(ref); ok {
		c.Parents = []object.Hash{parent}
	}
	h, err := s.store.WriteCommit(c)
	if err != nil {
		t.Fatalf("remotetest: write commit: %v", err)
	}
	s.SetRef(ref, h)
	return h
}

// Files reads the snapshot ref points at as path -> content.
func (s *Server) Files(t testing.TB, ref string) map[string]string {
	t.Helper()
	h, ok := s.Ref(ref)
	if !ok {
		t.Fatalf("remotetest: ref %q not found", ref)
	}
	c, err := s.store.ReadCommit(h)
	if err != nil {
		t.Fatalf("remotetest: read commit: %v", err)
	}
	out := make(map[string]string)
	if err := readFiles(s.store, c.TreeHash, "", out); err != nil {
		t.Fatalf("remotetest: read tree: %v", err)
	}
	return out
}

func writeFiles(store *object.Store, files map[string]string) (object.Hash, error) {
	var entries []object.TreeEntry
	dirs := make(map[string]map[string]string)
	for p, content := range files {
		head, rest, nested := strings.Cut(strings.Trim(p, "/"), "/")
		if nested {
			if dirs[head] == nil {
				dirs[head] = make(map[string]string)
			}
			dirs[head][rest] = content
			continue
		}
		h, err := store.WriteBlob(&object.Blob{Data: []byte(content)})
		if err != nil {
			return "", err
		}
		entries = append(entries, object.TreeEntry{Name: head, Mode: object.TreeModeFile, BlobHash: h})
	}
	for name, sub := range dirs {
		h, err := writeFiles(store, sub)
		if err != nil {
			return "", err
		}
		entries = append(entries, object.TreeEntry{Name: name, IsDir: true, Mode: object.TreeModeDir, SubtreeHash: h})
	}
	return store.WriteTree(&object.TreeObj{Entries: entries})
}

func readFiles(store *object.Store, tree object.Hash, prefix string, out map[string]string) error {
	tr, err := store.ReadTree(tree)
	if err != nil {
		return err
	}
	for _, e := range tr.Entries {
		p := prefix + e.Name
		if e.IsDir {
			if err := readFiles(store, e.SubtreeHash, p+"/", out); err != nil {
				return err
			}
			continue
		}
		b, err := store.ReadBlob(e.BlobHash)
		if err != nil {
			return err
		}
		out[p] = string(b.Data)
	}
	return nil
}

type wireObject struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, s.prefix)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown repository")
		return
	}
	route := r.Method + " " + rest
	if strings.HasPrefix(rest, "/objects/") && rest != "/objects/batch" {
		route = r.Method + " /objects/{hash}"
	}

	s.mu.Lock()
	s.requests[route]++
	unavailable, token, rejectPush := s.unavailable, s.token, s.rejectPush
	s.mu.Unlock()

	w.Header().Set("Got-Capabilities", "shallow,zstd")
	if unavailable {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "origin is down")
		return
	}
	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeError(w, http.StatusUnauthorized, "unauthorized", "bad credentials")
		return
	}

	switch route {
	case "GET /refs":
		s.handleListRefs(w)
	case "POST /refs":
		if rejectPush {
			writeError(w, http.StatusForbidden, "forbidden", "push not permitted")
			return
		}
		s.handleUpdateRefs(w, r)
	case "POST /objects/batch":
		s.handleBatch(w, r)
	case "GET /objects/{hash}":
		s.handleGetObject(w, strings.TrimPrefix(rest, "/objects/"))
	case "POST /objects":
		s.handlePushObjects(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", route)
	}
}

func (s *Server) handleListRefs(w http.ResponseWriter) {
	s.mu.Lock()
	out := make(map[string]string, len(s.refs))
	for name, h := range s.refs {
		out[name] = string(h)
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wants      []string `json:"wants"`
		Haves      []string `json:"haves"`
		MaxObjects int      `json:"max_objects"`
		Shallow    bool     `json:"shallow"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	haves := make(map[object.Hash]struct{}, len(req.Haves))
	for _, h := range req.Haves {
		haves[object.Hash(h)] = struct{}{}
	}

	var objects []wireObject
	truncated := false
	seen := make(map[object.Hash]struct{})
	stack := make([]object.Hash, 0, len(req.Wants))
	for _, h := range req.Wants {
		stack = append(stack, object.Hash(h))
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		objType, data, err := s.store.Read(h)
		if err != nil {
			continue
		}
		if _, have := haves[h]; !have {
			if req.MaxObjects > 0 && len(objects) >= req.MaxObjects {
				truncated = true
				break
			}
			objects = append(objects, wireObject{Hash: string(h), Type: string(objType), Data: data})
		}
		refs, err := object.References(objType, data, !req.Shallow)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "corrupt_object", err.Error())
			return
		}
		stack = append(stack, refs...)
	}

	payload, err := json.Marshal(map[string]any{"objects": objects, "truncated": truncated})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		payload = enc.EncodeAll(payload, nil)
		_ = enc.Close()
		w.Header().Set("Content-Encoding", "zstd")
	}
	_, _ = w.Write(payload)
}

func (s *Server) handleGetObject(w http.ResponseWriter, hash string) {
	objType, data, err := s.store.Read(object.Hash(hash))
	if err != nil {
		writeError(w, http.StatusNotFound, "object_not_found", hash)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Object-Type", string(objType))
	_, _ = w.Write(data)
}

func (s *Server) handlePushObjects(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if strings.Contains(r.Header.Get("Content-Encoding"), "zstd") {
		dec, err := zstd.NewReader(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_encoding", err.Error())
			return
		}
		defer dec.Close()
		body = dec
	}

	var received []object.Hash
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 64<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj wireObject
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		objType, err := object.ParseObjectType(obj.Type)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_type", err.Error())
			return
		}
		h, err := s.store.Write(objType, obj.Data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		if string(h) != obj.Hash {
			writeError(w, http.StatusBadRequest, "hash_mismatch", fmt.Sprintf("%s != %s", h, obj.Hash))
			return
		}
		received = append(received, h)
	}
	if err := scanner.Err(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s.mu.Lock()
	s.pushed = append(s.pushed, received...)
	s.mu.Unlock()
	writeJSON(w, map[string]int{"received": len(received)})
}

func (s *Server) handleUpdateRefs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []struct {
			Name string  `json:"name"`
			Old  *string `json:"old"`
			New  string  `json:"new"`
		} `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range req.Updates {
		current, exists := s.refs[u.Name]
		switch {
		case u.Old == nil && exists:
			writeError(w, http.StatusConflict, "ref_conflict", fmt.Sprintf("%s already exists", u.Name))
			return
		case u.Old != nil && (!exists || string(current) != *u.Old):
			writeError(w, http.StatusConflict, "ref_conflict", fmt.Sprintf("%s is at %s", u.Name, current))
			return
		}
		if _, err := s.store.ReadCommit(object.Hash(u.New)); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "missing_object", u.New)
			return
		}
	}
	updated := make(map[string]string, len(req.Updates))
	for _, u := range req.Updates {
		s.refs[u.Name] = object.Hash(u.New)
		updated[u.Name] = u.New
	}
	writeJSON(w, map[string]any{"updated": updated})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "error": msg})
}
