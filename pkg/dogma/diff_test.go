package dogma

import (
	"testing"

	"github.com/antgroup/dogma/modules/pathpattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Applying diff(a, b) to tree a must reproduce tree b.
func TestDiffCompose(t *testing.T) {
	from := TreeMap{
		"/a.json":   {Type: JSON, Data: []byte(`{"a":1,"b":[1,2]}`)},
		"/b.txt":    {Type: Text, Data: []byte("one\ntwo\n")},
		"/gone.txt": {Type: Text, Data: []byte("bye\n")},
	}
	to := TreeMap{
		"/a.json":   {Type: JSON, Data: []byte(`{"a":2,"b":[1,2,3]}`)},
		"/b.txt":    {Type: Text, Data: []byte("one\n2\n")},
		"/new.json": {Type: JSON, Data: []byte(`[true]`)},
	}

	changes, err := DiffTrees(from, to, pathpattern.All)
	require.NoError(t, err)

	_, got, err := ApplyChanges(from, changes, true)
	require.NoError(t, err)

	require.Len(t, got, len(to))
	for path, want := range to {
		doc, ok := got[path]
		require.True(t, ok, path)
		assert.True(t, sameContent(want.Type, want.Data, doc.Data), path)
	}
}

func TestDiffKinds(t *testing.T) {
	from := TreeMap{"/a.json": {Type: JSON, Data: []byte(`{"a":1}`)}}
	to := TreeMap{"/a.json": {Type: JSON, Data: []byte(`{"a":2}`)}}

	changes, err := DiffTrees(from, to, pathpattern.All)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ApplyJSONPatch, changes[0].Type)

	changes, err = DiffTrees(TreeMap{}, to, pathpattern.All)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, UpsertJSON, changes[0].Type)

	changes, err = DiffTrees(from, TreeMap{}, pathpattern.All)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Remove, changes[0].Type)
}

func TestDiffPatternFilter(t *testing.T) {
	from := TreeMap{}
	to := TreeMap{
		"/a.json": {Type: JSON, Data: []byte(`1`)},
		"/b.txt":  {Type: Text, Data: []byte("x\n")},
	}
	changes, err := DiffTrees(from, to, pathpattern.MustCompile("/*.json"))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "/a.json", changes[0].Path)
}

func TestDiffIdenticalTreesEmpty(t *testing.T) {
	tree := TreeMap{"/a.json": {Type: JSON, Data: []byte(`{"k": 1}`)}}
	same := TreeMap{"/a.json": {Type: JSON, Data: []byte(`{"k":1}`)}}
	changes, err := DiffTrees(tree, same, pathpattern.All)
	require.NoError(t, err)
	assert.Empty(t, changes)
}
