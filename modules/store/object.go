package store

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/antgroup/dogma/modules/plumbing"
)

// ObjectKind discriminates the three object encodings of the store.
type ObjectKind string

const (
	BlobObject   ObjectKind = "blob"
	TreeObject   ObjectKind = "tree"
	CommitObject ObjectKind = "commit"
)

// TreeEntry is one leaf of a tree object. Trees are flat: Path is the
// absolute entry path, not a single segment.
type TreeEntry struct {
	Path string        `json:"path"`
	Kind string        `json:"kind"`
	Blob plumbing.Hash `json:"blob"`
}

// Tree is the complete content listing at one revision, ordered by path.
type Tree struct {
	Hash    plumbing.Hash `json:"-"`
	Entries []TreeEntry   `json:"entries"`
}

func (t *Tree) Sort() {
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Path < t.Entries[j].Path })
}

// Find returns the entry at path, or nil.
func (t *Tree) Find(path string) *TreeEntry {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Path >= path })
	if i < len(t.Entries) && t.Entries[i].Path == path {
		return &t.Entries[i]
	}
	return nil
}

// Paths returns every entry path in order.
func (t *Tree) Paths() []string {
	paths := make([]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		paths = append(paths, e.Path)
	}
	return paths
}

// Signature identifies the author of a commit.
type Signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit is the immutable revision record. Changes is the applied change
// list in its wire form; the store does not interpret it.
type Commit struct {
	Hash     plumbing.Hash   `json:"-"`
	Parent   plumbing.Hash   `json:"parent"`
	Tree     plumbing.Hash   `json:"tree"`
	Revision int64           `json:"revision"`
	Author   Signature       `json:"author"`
	PushedAt int64           `json:"pushedAt"` // epoch millis
	Summary  string          `json:"summary"`
	Detail   string          `json:"detail,omitempty"`
	Markup   string          `json:"markup,omitempty"`
	Changes  json.RawMessage `json:"changes,omitempty"`
}

func encodeTree(t *Tree) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTree(data []byte) (*Tree, error) {
	t := new(Tree)
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

func encodeCommit(c *Commit) ([]byte, error) {
	return json.Marshal(c)
}

func decodeCommit(data []byte) (*Commit, error) {
	c := new(Commit)
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// objectHeader is prepended to the payload before hashing and storage, so
// that objects of different kinds can never collide.
func objectHeader(kind ObjectKind, size int) []byte {
	return []byte("dogma " + string(kind) + " " + strconv.Itoa(size) + "\x00")
}
