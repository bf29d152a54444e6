package repo

import (
	"errors"
	"fmt"
)

// Failure kinds of tree and ref operations. Every error returned by the tree
// operations in this package matches exactly one of them under errors.Is.
var (
	ErrInvalidPath   = errors.New("invalid path")
	ErrNotFound      = errors.New("not found")
	ErrNotADirectory = errors.New("not a directory")
	ErrIsADirectory  = errors.New("is a directory")
	ErrConflict      = errors.New("conflict")
)

// Phases reported in PathError.
const (
	PhaseParse   = "parse"
	PhaseResolve = "resolve"
	PhaseWalk    = "walk"
	PhaseLookup  = "lookup"
	PhaseInsert  = "insert"
	PhaseDelete  = "delete"
	PhaseRebind  = "rebind"
)

// PathError records which path failed, in which phase, and why.
type PathError struct {
	Phase string
	Path  string
	Kind  error // one of the Err* kinds above
	Cause error // underlying error, if any
}

func (e *PathError) Error() string {
	msg := fmt.Sprintf("%s %q: %v", e.Phase, e.Path, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PathError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func pathErr(phase string, segments []string, kind error) *PathError {
	return &PathError{Phase: phase, Path: JoinPath(segments), Kind: kind}
}
