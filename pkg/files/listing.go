package files

import (
	"sort"

	"github.com/odvcencio/reftree/pkg/object"
	"github.com/odvcencio/reftree/pkg/repo"
)

// Listing maps every entry name of a directory to its own Listing. Files
// map to nil, which encodes as JSON null.
type Listing map[string]Listing

// BuildListing walks the tree at root. An empty root lists as an empty
// directory.
func BuildListing(r *repo.Repo, root object.Hash) (Listing, error) {
	tr, err := r.ReadTree(root)
	if err != nil {
		return nil, err
	}
	out := make(Listing, len(tr.Entries))
	for _, e := range tr.Entries {
		if !e.IsDir {
			out[e.Name] = nil
			continue
		}
		sub, err := BuildListing(r, e.SubtreeHash)
		if err != nil {
			return nil, err
		}
		out[e.Name] = sub
	}
	return out, nil
}

// Paths returns the slash-separated path of every file in l, sorted.
func (l Listing) Paths() []string {
	var out []string
	l.collect("", &out)
	sort.Strings(out)
	return out
}

func (l Listing) collect(prefix string, out *[]string) {
	for name, sub := range l {
		p := name
		if prefix != "" {
			p = prefix + "/" + name
		}
		if sub == nil {
			*out = append(*out, p)
			continue
		}
		sub.collect(p, out)
	}
}
