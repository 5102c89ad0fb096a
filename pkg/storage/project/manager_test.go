package project

import (
	"testing"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = dogma.Author{Name: "alice", Email: "alice@localhost"}
	t0    = time.UnixMilli(1700000000000).UTC()
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	return m
}

func TestCreateProject(t *testing.T) {
	m := newTestManager(t)

	p, err := m.Create("foo", alice, t0)
	require.NoError(t, err)
	assert.Equal(t, "foo", p.Name())

	// Reserved repositories exist from the start.
	_, ok := p.Repo(MetaRepo)
	assert.True(t, ok)
	_, ok = p.Repo(DogmaRepo)
	assert.True(t, ok)

	// Metadata was bootstrapped.
	meta, err := m.Metadata("foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", meta["name"])

	_, err = m.Create("foo", alice, t0)
	assert.True(t, plumbing.IsErrProjectExists(err))

	_, err = m.Create("/bad/", alice, t0)
	assert.True(t, plumbing.IsErrBadName(err))
}

func TestRemoveUnremove(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("foo", alice, t0)
	require.NoError(t, err)

	require.NoError(t, m.Remove("foo", t0))
	assert.False(t, m.Exists("foo"))
	assert.NotContains(t, m.List(false), "foo")
	assert.Contains(t, m.ListRemoved(), "foo")

	require.NoError(t, m.Unremove("foo"))
	assert.True(t, m.Exists("foo"))

	err = m.Remove("missing", t0)
	assert.True(t, plumbing.IsErrProjectNotFound(err))
}

func TestInternalProjectProtected(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(InternalProject, alice, t0)
	require.NoError(t, err)

	assert.NotContains(t, m.List(false), InternalProject)
	assert.Contains(t, m.List(true), InternalProject)

	assert.ErrorIs(t, m.Remove(InternalProject, t0), plumbing.ErrPermissionDenied)
	assert.ErrorIs(t, m.MarkForPurge(InternalProject, t0), plumbing.ErrPermissionDenied)
}

func TestRepoLifecycle(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("foo", alice, t0)
	require.NoError(t, err)

	r, err := m.CreateRepo("foo", "bar", alice, t0)
	require.NoError(t, err)
	assert.Equal(t, "bar", r.Name())

	_, err = m.CreateRepo("foo", "bar", alice, t0)
	assert.True(t, plumbing.IsErrRepositoryExists(err))

	require.NoError(t, m.RemoveRepo("foo", "bar", t0))
	_, err = m.Repo("foo", "bar")
	assert.True(t, plumbing.IsErrRepositoryNotFound(err))

	p, _ := m.Get("foo")
	assert.Contains(t, p.RemovedRepos(), "bar")

	require.NoError(t, m.UnremoveRepo("foo", "bar"))
	_, err = m.Repo("foo", "bar")
	require.NoError(t, err)

	// Reserved repositories refuse removal.
	assert.ErrorIs(t, m.RemoveRepo("foo", MetaRepo, t0), plumbing.ErrPermissionDenied)
}

func TestPurge(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("foo", alice, t0)
	require.NoError(t, err)
	_, err = m.CreateRepo("foo", "bar", alice, t0)
	require.NoError(t, err)

	require.NoError(t, m.MarkRepoForPurge("foo", "bar", t0))
	m.purgeOnce(t0.Add(time.Hour))

	p, _ := m.Get("foo")
	_, ok := p.Repo("bar")
	assert.False(t, ok)
	assert.NotContains(t, p.RemovedRepos(), "bar")

	require.NoError(t, m.MarkForPurge("foo", t0))
	m.purgeOnce(t0.Add(time.Hour))
	assert.False(t, m.Exists("foo"))
	assert.Empty(t, m.ListRemoved())
}

func TestRescan(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 0)
	require.NoError(t, err)
	_, err = m.Create("foo", alice, t0)
	require.NoError(t, err)
	_, err = m.CreateRepo("foo", "bar", alice, t0)
	require.NoError(t, err)

	m2, err := NewManager(dir, 0)
	require.NoError(t, err)
	assert.True(t, m2.Exists("foo"))
	r, err := m2.Repo("foo", "bar")
	require.NoError(t, err)
	assert.Equal(t, "bar", r.Name())
}
