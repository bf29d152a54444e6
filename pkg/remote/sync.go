package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/odvcencio/reftree/pkg/object"
)

const (
	// MaxBatchObjects mirrors gothub's current server-side cap.
	MaxBatchObjects = 50000
	// MaxBatchHaveHashes keeps batch request payloads under server body limits.
	MaxBatchHaveHashes = 20000
	// MaxBatchNegotiationRounds prevents unbounded negotiation loops.
	MaxBatchNegotiationRounds = 1024
)

// FetchIntoStore fetches the snapshots named by wants into the local store:
// each commit, its tree, and every subtree and blob below it. Commit parents
// are never followed, so the store ends up holding a shallow copy.
//
// Objects arrive through batch negotiation first. The local walk that
// follows writes only objects the snapshots reference, and fetches any
// still-missing object via GetObject. It returns the number of objects newly
// written.
func FetchIntoStore(ctx context.Context, c *Client, store *object.Store, wants, haves []object.Hash) (int, error) {
	roots := object.UniqueHashes(wants)
	if len(roots) == 0 {
		return 0, fmt.Errorf("at least one want hash is required")
	}

	pending := make(map[object.Hash]ObjectRecord)
	knownHaves, knownHaveSet := initKnownHaves(haves)
	negotiationCompleted := false
	for round := 0; round < MaxBatchNegotiationRounds; round++ {
		batchObjects, truncated, err := c.BatchObjects(ctx, roots, selectBatchHaves(knownHaves, MaxBatchHaveHashes), MaxBatchObjects, true)
		if err != nil {
			return 0, err
		}

		newInRound := 0
		for _, obj := range batchObjects {
			if err := verifyObject(obj); err != nil {
				return 0, err
			}
			if _, ok := pending[obj.Hash]; !ok {
				pending[obj.Hash] = obj
				newInRound++
			}
			knownHaves, knownHaveSet = appendKnownHave(knownHaves, knownHaveSet, obj.Hash)
		}

		if !truncated {
			negotiationCompleted = true
			break
		}
		// If the server keeps truncating without new objects, finish via point
		// fetches to avoid spinning on duplicate batches.
		if newInRound == 0 {
			negotiationCompleted = true
			break
		}
	}
	if !negotiationCompleted {
		return 0, fmt.Errorf("batch negotiation exceeded %d rounds", MaxBatchNegotiationRounds)
	}

	return ensureSnapshotClosure(ctx, c, store, roots, pending)
}

func initKnownHaves(haves []object.Hash) ([]object.Hash, map[object.Hash]struct{}) {
	haveSet := make(map[object.Hash]struct{}, len(haves))
	haveList := make([]object.Hash, 0, len(haves))
	for _, h := range object.UniqueHashes(haves) {
		haveList = append(haveList, h)
		haveSet[h] = struct{}{}
	}
	return haveList, haveSet
}

func appendKnownHave(haveList []object.Hash, haveSet map[object.Hash]struct{}, h object.Hash) ([]object.Hash, map[object.Hash]struct{}) {
	h = object.Hash(strings.TrimSpace(string(h)))
	if h == "" {
		return haveList, haveSet
	}
	if _, ok := haveSet[h]; ok {
		return haveList, haveSet
	}
	haveSet[h] = struct{}{}
	haveList = append(haveList, h)
	return haveList, haveSet
}

func selectBatchHaves(haves []object.Hash, max int) []object.Hash {
	if max <= 0 || len(haves) <= max {
		out := make([]object.Hash, len(haves))
		copy(out, haves)
		return out
	}
	out := make([]object.Hash, max)
	copy(out, haves[len(haves)-max:])
	return out
}

// CollectObjectsForPush returns objects reachable from roots excluding objects
// in stopRoots (and anything reachable from stopRoots). A parent commit
// missing from the store marks the edge of a shallow history and is skipped.
func CollectObjectsForPush(store *object.Store, roots, stopRoots []object.Hash) ([]ObjectRecord, error) {
	roots = object.UniqueHashes(roots)
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root hash is required")
	}

	stopSet, err := store.ReachableSet(stopRoots)
	if err != nil {
		return nil, err
	}

	type visit struct {
		hash   object.Hash
		parent bool
	}
	seen := make(map[object.Hash]struct{})
	stack := make([]visit, 0, len(roots))
	for _, h := range roots {
		stack = append(stack, visit{hash: h})
	}

	objects := make([]ObjectRecord, 0, 64)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		h := v.hash
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		if _, stopped := stopSet[h]; stopped {
			continue
		}
		seen[h] = struct{}{}

		objType, data, err := store.Read(h)
		if err != nil {
			if v.parent && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read object %s: %w", h, err)
		}
		objects = append(objects, ObjectRecord{Hash: h, Type: objType, Data: data})

		refs, err := object.References(objType, data, false)
		if err != nil {
			return nil, fmt.Errorf("parse object %s (%s): %w", h, objType, err)
		}
		for _, ref := range refs {
			stack = append(stack, visit{hash: ref})
		}
		if objType == object.TypeCommit {
			commit, err := object.UnmarshalCommit(data)
			if err != nil {
				return nil, fmt.Errorf("parse commit %s: %w", h, err)
			}
			for _, p := range commit.Parents {
				stack = append(stack, visit{hash: p, parent: true})
			}
		}
	}

	return objects, nil
}

// ensureSnapshotClosure walks the snapshot graph under roots without
// following parents. Each object comes from the store, then from pending,
// then from a point fetch.
func ensureSnapshotClosure(ctx context.Context, c *Client, store *object.Store, roots []object.Hash, pending map[object.Hash]ObjectRecord) (int, error) {
	written := 0
	seen := make(map[object.Hash]struct{}, len(roots))
	stack := make([]object.Hash, 0, len(roots))
	stack = append(stack, roots...)

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		if !store.Has(h) {
			obj, ok := pending[h]
			if !ok {
				var err error
				if obj, err = c.GetObject(ctx, h); err != nil {
					return written, err
				}
			}
			n, err := writeVerifiedObject(store, obj)
			if err != nil {
				return written, err
			}
			written += n
		}

		objType, data, err := store.Read(h)
		if err != nil {
			return written, fmt.Errorf("read object %s: %w", h, err)
		}
		refs, err := object.References(objType, data, false)
		if err != nil {
			return written, fmt.Errorf("parse object %s (%s): %w", h, objType, err)
		}
		stack = append(stack, refs...)
	}

	return written, nil
}

func verifyObject(obj ObjectRecord) error {
	if strings.TrimSpace(string(obj.Hash)) == "" {
		return fmt.Errorf("object hash is required")
	}
	if _, err := object.ParseObjectType(string(obj.Type)); err != nil {
		return err
	}
	computed := object.HashObject(obj.Type, obj.Data)
	if computed != obj.Hash {
		return fmt.Errorf("object hash mismatch: expected %s, got %s", obj.Hash, computed)
	}
	return nil
}

func writeVerifiedObject(store *object.Store, obj ObjectRecord) (int, error) {
	if err := verifyObject(obj); err != nil {
		return 0, err
	}
	alreadyPresent := store.Has(obj.Hash)
	writtenHash, err := store.Write(obj.Type, obj.Data)
	if err != nil {
		return 0, err
	}
	if writtenHash != obj.Hash {
		return 0, fmt.Errorf("object write mismatch: expected %s, wrote %s", obj.Hash, writtenHash)
	}
	if alreadyPresent {
		return 0, nil
	}
	return 1, nil
}
