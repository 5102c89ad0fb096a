package repo

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/antgroup/dogma/modules/pathpattern"
	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = dogma.Author{Name: "alice", Email: "alice@localhost"}
	t0    = time.UnixMilli(1700000000000).UTC()
)

func newTestRepo(t *testing.T) *Repository {
	r, err := Create("foo", "bar", t.TempDir(), alice, t0)
	require.NoError(t, err)
	return r
}

func push(t *testing.T, r *Repository, summary string, changes ...dogma.Change) revision.Revision {
	t.Helper()
	rev, _, err := r.Commit(revision.Head, t0, alice,
		dogma.CommitMessage{Summary: summary}, changes, true)
	require.NoError(t, err)
	return rev
}

func TestCreateInitialCommit(t *testing.T) {
	r := newTestRepo(t)
	assert.Equal(t, revision.Init, r.Head())

	c, err := r.commitAt(revision.Init)
	require.NoError(t, err)
	assert.Equal(t, "Create a new repository", c.CommitMessage.Summary)
	assert.Empty(t, c.Changes)
}

func TestCommitAdvancesHead(t *testing.T) {
	r := newTestRepo(t)

	prev := r.Head()
	rev := push(t, r, "add", dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1}))
	assert.Equal(t, prev+1, rev)
	assert.Equal(t, rev, r.Head())
}

func TestCommitRedundantRejected(t *testing.T) {
	r := newTestRepo(t)
	push(t, r, "add", dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1}))
	head := r.Head()

	_, _, err := r.Commit(revision.Head, t0, alice, dogma.CommitMessage{Summary: "noop"},
		[]dogma.Change{dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1})}, true)
	require.Error(t, err)
	assert.True(t, plumbing.IsErrRedundantChange(err))
	assert.Equal(t, head, r.Head())
}

func TestCommitStaleBaseConflict(t *testing.T) {
	r := newTestRepo(t)
	base := push(t, r, "one", dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1}))
	push(t, r, "two", dogma.NewUpsertJSON("/a.json", map[string]any{"a": 2}))

	// Same path touched after base: conflict.
	_, _, err := r.Commit(base, t0, alice, dogma.CommitMessage{Summary: "three"},
		[]dogma.Change{dogma.NewUpsertJSON("/a.json", map[string]any{"a": 3})}, true)
	require.Error(t, err)
	assert.True(t, plumbing.IsErrChangeConflict(err))

	// Disjoint path: accepted.
	rev, _, err := r.Commit(base, t0, alice, dogma.CommitMessage{Summary: "four"},
		[]dogma.Change{dogma.NewUpsertJSON("/b.json", map[string]any{"b": 1})}, true)
	require.NoError(t, err)
	assert.Equal(t, r.Head(), rev)
}

func TestGet(t *testing.T) {
	r := newTestRepo(t)
	push(t, r, "add", dogma.NewUpsertJSON("/a.json", []any{float64(1), float64(2), float64(3)}))

	e, err := r.Get(revision.Head, dogma.NewQuery("/a.json"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, e.Content)
	assert.Equal(t, r.Head(), e.Revision)

	e, err = r.Get(revision.Head, dogma.NewJSONPathQuery("/a.json", "$[0]"))
	require.NoError(t, err)
	assert.Equal(t, float64(1), e.Content)

	// Missing path is null, not an error.
	e, err = r.Get(revision.Head, dogma.NewQuery("/missing.json"))
	require.NoError(t, err)
	assert.Nil(t, e)

	// Older revision still sees the old tree.
	e, err = r.Get(revision.Init, dogma.NewQuery("/a.json"))
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestList(t *testing.T) {
	r := newTestRepo(t)
	push(t, r, "add",
		dogma.NewUpsertJSON("/b/sub.json", map[string]any{"x": 1}),
		dogma.NewUpsertText("/a.txt", "hello\n"),
	)

	entries, err := r.List(revision.Head, pathpattern.All)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "/a.txt", entries[0].Path)
	assert.Equal(t, dogma.Text, entries[0].Type)
	assert.Equal(t, "/b", entries[1].Path)
	assert.Equal(t, dogma.Directory, entries[1].Type)
	assert.Equal(t, "/b/sub.json", entries[2].Path)

	entries, err = r.List(revision.Head, pathpattern.MustCompile("/b/**"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/b/sub.json", entries[0].Path)
}

func TestHistoryFilter(t *testing.T) {
	r := newTestRepo(t)
	for i := 0; i < 10; i++ {
		path := "/even.json"
		if i%2 == 1 {
			path = "/odd.json"
		}
		push(t, r, strconv.Itoa(i), dogma.NewUpsertJSON(path, map[string]any{"i": i}))
	}

	summaries := func(commits []*dogma.Commit) []string {
		out := make([]string, 0, len(commits))
		for _, c := range commits {
			out = append(out, c.CommitMessage.Summary)
		}
		return out
	}

	commits, err := r.History(revision.Head, revision.Init, pathpattern.MustCompile("/even.json"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"8", "6", "4", "2", "0"}, summaries(commits))

	commits, err = r.History(revision.Head, revision.Init, pathpattern.MustCompile("/even.json"), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"8", "6", "4"}, summaries(commits))

	// Ascending direction when from < to.
	commits, err = r.History(revision.Init, revision.Head, pathpattern.MustCompile("/even.json"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2", "4", "6", "8"}, summaries(commits))
}

func TestHistoryIntervalComplete(t *testing.T) {
	r := newTestRepo(t)
	for i := 0; i < 5; i++ {
		push(t, r, fmt.Sprintf("c%d", i), dogma.NewUpsertJSON("/a.json", map[string]any{"i": i}))
	}
	commits, err := r.History(revision.Head, revision.Init, pathpattern.All, 0)
	require.NoError(t, err)
	// Every commit in the interval touches /a.json except the initial one.
	assert.Len(t, commits, 5)
	assert.Equal(t, r.Head(), commits[0].Revision)
}

func TestDiffCompose(t *testing.T) {
	r := newTestRepo(t)
	push(t, r, "one", dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1}))
	push(t, r, "two",
		dogma.NewUpsertJSON("/a.json", map[string]any{"a": 2}),
		dogma.NewUpsertText("/b.txt", "b\n"),
	)
	push(t, r, "three", dogma.NewRemove("/b.txt"))

	changes, err := r.Diff(revision.Init, revision.Head, pathpattern.All)
	require.NoError(t, err)

	fromMap, err := r.treeMapAt(revision.Init)
	require.NoError(t, err)
	_, got, err := dogma.ApplyChanges(fromMap, changes, true)
	require.NoError(t, err)

	toMap, err := r.treeMapAt(r.Head())
	require.NoError(t, err)
	require.Len(t, got, len(toMap))
	for path := range toMap {
		assert.Contains(t, got, path)
	}

	// Reversed orientation undoes the changes.
	back, err := r.Diff(revision.Head, revision.Init, pathpattern.All)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, dogma.Remove, back[0].Type)
}

func TestPreviewDiff(t *testing.T) {
	r := newTestRepo(t)
	push(t, r, "add", dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1}))

	applied, err := r.PreviewDiff(revision.Head, []dogma.Change{
		dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1}), // redundant
		dogma.NewUpsertJSON("/b.json", map[string]any{"b": 1}),
	})
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "/b.json", applied[0].Path)

	// HEAD unchanged by preview.
	e, err := r.Get(revision.Head, dogma.NewQuery("/b.json"))
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestMergeQuery(t *testing.T) {
	r := newTestRepo(t)
	push(t, r, "add",
		dogma.NewUpsertJSON("/base.json", map[string]any{"a": 1, "b": 1}),
		dogma.NewUpsertJSON("/override.json", map[string]any{"b": 2}),
	)

	entry, err := r.MergeQuery(revision.Head, &dogma.MergeQuery{Sources: []dogma.MergeSource{
		{Path: "/base.json"},
		{Path: "/override.json"},
		{Path: "/missing.json", Optional: true},
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, entry.Content)

	_, err = r.MergeQuery(revision.Head, &dogma.MergeQuery{Sources: []dogma.MergeSource{
		{Path: "/missing.json"},
	}})
	assert.True(t, plumbing.IsErrEntryNotFound(err))
}

func TestChangedPaths(t *testing.T) {
	r := newTestRepo(t)
	from := r.Head()
	push(t, r, "one", dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1}))
	push(t, r, "two", dogma.NewUpsertJSON("/b.json", map[string]any{"b": 1}))

	paths, err := r.ChangedPaths(from, r.Head())
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.json", "/b.json"}, paths)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	r, err := Create("foo", "bar", dir, alice, t0)
	require.NoError(t, err)
	rev, _, err := r.Commit(revision.Head, t0, alice, dogma.CommitMessage{Summary: "add"},
		[]dogma.Change{dogma.NewUpsertText("/a.txt", "x\n")}, true)
	require.NoError(t, err)

	r2, err := Open("foo", "bar", dir)
	require.NoError(t, err)
	assert.Equal(t, rev, r2.Head())

	e, err := r2.Get(revision.Head, dogma.NewQuery("/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x\n", e.Content)
}
