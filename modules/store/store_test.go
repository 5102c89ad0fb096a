package store

import (
	"testing"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)

	content := []byte(`{"a":1}`)
	oid, err := s.PutBlob(content)
	require.NoError(t, err)
	assert.False(t, oid.IsZero())

	got, err := s.ReadBlob(oid)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Same content, same id.
	oid2, err := s.PutBlob(content)
	require.NoError(t, err)
	assert.Equal(t, oid, oid2)
}

func TestKindsDoNotCollide(t *testing.T) {
	s := newTestStore(t)

	oid, err := s.PutBlob([]byte(`{"entries":null}`))
	require.NoError(t, err)
	_, err = s.ReadTree(oid)
	require.Error(t, err)
}

func TestTreeRoundTrip(t *testing.T) {
	s := newTestStore(t)

	b1, err := s.PutBlob([]byte("one"))
	require.NoError(t, err)
	b2, err := s.PutBlob([]byte("two"))
	require.NoError(t, err)

	tree := &Tree{Entries: []TreeEntry{
		{Path: "/z.txt", Kind: "TEXT", Blob: b2},
		{Path: "/a.json", Kind: "JSON", Blob: b1},
	}}
	oid, err := s.PutTree(tree)
	require.NoError(t, err)

	got, err := s.ReadTree(oid)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	// Sorted by path regardless of insertion order.
	assert.Equal(t, "/a.json", got.Entries[0].Path)
	assert.Equal(t, "/z.txt", got.Entries[1].Path)
	assert.Equal(t, b1, got.Find("/a.json").Blob)
	assert.Nil(t, got.Find("/missing"))
}

func TestCommitRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tree, err := s.PutTree(&Tree{})
	require.NoError(t, err)
	c := &Commit{
		Tree:     tree,
		Revision: 1,
		Author:   Signature{Name: "alice", Email: "alice@localhost"},
		PushedAt: 1700000000000,
		Summary:  "initial commit",
	}
	oid, err := s.PutCommit(c)
	require.NoError(t, err)

	got, err := s.ReadCommit(oid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, "alice", got.Author.Name)
	assert.True(t, got.Parent.IsZero())
	assert.Equal(t, tree, got.Tree)
}

func TestRefCAS(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Ref(HEAD)
	assert.Equal(t, ErrRefNotFound, err)

	a, err := s.PutBlob([]byte("a"))
	require.NoError(t, err)
	b, err := s.PutBlob([]byte("b"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateRef(HEAD, plumbing.ZeroHash, a))
	got, err := s.Ref(HEAD)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	// Stale expected hash must not move the ref.
	err = s.UpdateRef(HEAD, plumbing.ZeroHash, b)
	assert.ErrorIs(t, err, ErrStaleRef)
	got, _ = s.Ref(HEAD)
	assert.Equal(t, a, got)

	require.NoError(t, s.UpdateRef(HEAD, a, b))
	got, _ = s.Ref(HEAD)
	assert.Equal(t, b, got)
}

func TestTags(t *testing.T) {
	s := newTestStore(t)

	tree, err := s.PutTree(&Tree{})
	require.NoError(t, err)
	oid, err := s.PutCommit(&Commit{Tree: tree, Revision: 1, Summary: "init"})
	require.NoError(t, err)

	require.NoError(t, s.PutTag(1, oid))
	got, err := s.Tag(1)
	require.NoError(t, err)
	assert.Equal(t, oid, got)

	c, err := s.CommitAt(1)
	require.NoError(t, err)
	assert.Equal(t, "init", c.Summary)

	_, err = s.Tag(2)
	assert.True(t, plumbing.IsErrRevisionNotFound(err))
}
