package repo

import "strings"

// SplitPath normalizes a slash-separated path into its segments. Empty
// segments are dropped, so "/a//b/" and "a/b" are the same path. A path
// with no segments, or with a "." or ".." segment, or with a NUL or newline
// in a name, is invalid.
func SplitPath(p string) ([]string, error) {
	var segments []string
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." || strings.ContainsAny(seg, "\x00\n") {
			return nil, &PathError{Phase: PhaseParse, Path: p, Kind: ErrInvalidPath}
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, &PathError{Phase: PhaseParse, Path: p, Kind: ErrInvalidPath}
	}
	return segments, nil
}

// JoinPath is the inverse of SplitPath for already-normalized segments.
func JoinPath(segments []string) string {
	return strings.Join(segments, "/")
}
