package files

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/reftree/pkg/object"
	"github.com/odvcencio/reftree/pkg/repo"
)

func TestBuildListing(t *testing.T) {
	r, err := repo.Init(t.TempDir())
	require.NoError(t, err)

	empty, err := BuildListing(r, "")
	require.NoError(t, err)
	require.Equal(t, Listing{}, empty)

	blob, err := r.Store.WriteBlob(&object.Blob{Data: []byte("x")})
	require.NoError(t, err)
	var root object.Hash
	for _, p := range []string{"src/main.go", "src/pkg/util.go", "go.mod"} {
		segments, err := repo.SplitPath(p)
		require.NoError(t, err)
		root, err = r.ApplyTree(root, segments, repo.InsertOp{Hash: blob})
		require.NoError(t, err)
	}

	listing, err := BuildListing(r, root)
	require.NoError(t, err)
	require.Equal(t, Listing{
		"go.mod": nil,
		"src": {
			"main.go": nil,
			"pkg":     {"util.go": nil},
		},
	}, listing)
	require.Equal(t, []string{"go.mod", "src/main.go", "src/pkg/util.go"}, listing.Paths())
}
