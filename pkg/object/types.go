package object

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. Exactly one of BlobHash and
// SubtreeHash is set, depending on IsDir.
type TreeEntry struct {
	Name        string
	IsDir       bool
	Mode        string
	BlobHash    Hash
	SubtreeHash Hash
}

// Target returns the hash the entry points at.
func (e TreeEntry) Target() Hash {
	if e.IsDir {
		return e.SubtreeHash
	}
	return e.BlobHash
}

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// Find returns the entry named name and its index, or -1 when absent.
func (t *TreeObj) Find(name string) (TreeEntry, int) {
	if t == nil {
		return TreeEntry{}, -1
	}
	for i, e := range t.Entries {
		if e.Name == name {
			return e, i
		}
	}
	return TreeEntry{}, -1
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    string
	Timestamp int64
	Signature string
	Message   string
}
