package command

import (
	"context"
	"testing"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/antgroup/dogma/pkg/storage/project"
	"github.com/antgroup/dogma/pkg/storage/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = dogma.Author{Name: "alice", Email: "alice@localhost"}
	t0    = time.UnixMilli(1700000000000).UTC()
)

type recordingSessions struct {
	created []Session
	removed []string
}

func (r *recordingSessions) CreateSession(s Session) error {
	r.created = append(r.created, s)
	return nil
}

func (r *recordingSessions) RemoveSession(id string) error {
	r.removed = append(r.removed, id)
	return nil
}

func newTestExecutor(t *testing.T) (*StandaloneExecutor, *recordingSessions) {
	m, err := project.NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	pool := repo.NewPool(4)
	t.Cleanup(pool.Close)
	sessions := &recordingSessions{}
	e := NewStandaloneExecutor(m, nil, pool, sessions)
	require.NoError(t, e.Start(nil, nil))
	t.Cleanup(func() { _ = e.Stop() })
	return e, sessions
}

func TestExecuteLifecycle(t *testing.T) {
	m, err := project.NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	pool := repo.NewPool(4)
	defer pool.Close()
	e := NewStandaloneExecutor(m, nil, pool, nil)

	assert.Equal(t, StateNew, e.State())
	_, err = e.Execute(context.Background(), &CreateProjectCommand{Timestamp: t0, Author: alice, Project: "foo"})
	assert.Error(t, err)

	var took, released bool
	require.NoError(t, e.Start(func() { took = true }, func() { released = true }))
	assert.Equal(t, StateStarted, e.State())
	assert.True(t, took)

	require.NoError(t, e.Stop())
	assert.Equal(t, StateStopped, e.State())
	assert.True(t, released)

	// Starting twice is refused.
	assert.Error(t, e.Start(nil, nil))
}

func TestExecutePush(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, &CreateProjectCommand{Timestamp: t0, Author: alice, Project: "foo"})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &CreateRepositoryCommand{Timestamp: t0, Author: alice, Project: "foo", Repository: "bar"})
	require.NoError(t, err)

	res, err := e.Execute(ctx, &PushCommand{
		Timestamp:    t0,
		Author:       alice,
		Project:      "foo",
		Repository:   "bar",
		BaseRevision: revision.Head,
		Message:      dogma.CommitMessage{Summary: "add a.json"},
		Changes:      []dogma.Change{dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1})},
		Normalizing:  true,
	})
	require.NoError(t, err)
	push := res.(*PushResult)
	assert.Equal(t, revision.Revision(2), push.Revision)

	_, err = e.Execute(ctx, &PushCommand{
		Timestamp:  t0,
		Author:     alice,
		Project:    "foo",
		Repository: "missing",
	})
	assert.True(t, plumbing.IsErrRepositoryNotFound(err))
}

func TestReadOnlyGate(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, &CreateProjectCommand{Timestamp: t0, Author: alice, Project: "foo"})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &CreateRepositoryCommand{Timestamp: t0, Author: alice, Project: "foo", Repository: "bar"})
	require.NoError(t, err)

	_, err = e.Execute(ctx, &UpdateServerStatusCommand{Timestamp: t0, Writable: false})
	require.NoError(t, err)
	assert.False(t, e.IsWritable())

	_, err = e.Execute(ctx, &CreateProjectCommand{Timestamp: t0, Author: alice, Project: "blocked"})
	assert.ErrorIs(t, err, plumbing.ErrReadOnly)

	push := &PushCommand{
		Timestamp:    t0,
		Author:       alice,
		Project:      "foo",
		Repository:   "bar",
		BaseRevision: revision.Head,
		Message:      dogma.CommitMessage{Summary: "blocked"},
		Changes:      []dogma.Change{dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1})},
		Normalizing:  true,
	}
	_, err = e.Execute(ctx, push)
	assert.ErrorIs(t, err, plumbing.ErrReadOnly)

	// A force push wraps any command past the gate, not just pushes.
	_, err = e.Execute(ctx, &ForcePushCommand{Wrapped: push})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &ForcePushCommand{Wrapped: &CreateProjectCommand{Timestamp: t0, Author: alice, Project: "forced"}})
	require.NoError(t, err)

	// Unwrapped session and status commands are rejected like any other
	// mutation while read-only.
	_, err = e.Execute(ctx, &CreateSessionCommand{Timestamp: t0, Session: Session{ID: "s1"}})
	assert.ErrorIs(t, err, plumbing.ErrReadOnly)
	_, err = e.Execute(ctx, &UpdateServerStatusCommand{Timestamp: t0, Writable: true})
	assert.ErrorIs(t, err, plumbing.ErrReadOnly)

	_, err = e.Execute(ctx, &ForcePushCommand{Wrapped: &UpdateServerStatusCommand{Timestamp: t0, Writable: true}})
	require.NoError(t, err)
	assert.True(t, e.IsWritable())
}

func TestTransformCommand(t *testing.T) {
	m, err := project.NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	pool := repo.NewPool(4)
	defer pool.Close()
	e := NewStandaloneExecutor(m, nil, pool, nil)
	require.NoError(t, e.Start(nil, nil))
	t.Cleanup(func() { _ = e.Stop() })
	ctx := context.Background()

	_, err = e.Execute(ctx, &CreateProjectCommand{Timestamp: t0, Author: alice, Project: "foo"})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &CreateRepositoryCommand{Timestamp: t0, Author: alice, Project: "foo", Repository: "bar"})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &PushCommand{
		Timestamp:    t0,
		Author:       alice,
		Project:      "foo",
		Repository:   "bar",
		BaseRevision: revision.Head,
		Message:      dogma.CommitMessage{Summary: "add a.json"},
		Changes:      []dogma.Change{dogma.NewUpsertJSON("/a.json", map[string]any{"a": float64(1)})},
		Normalizing:  true,
	})
	require.NoError(t, err)

	res, err := e.Execute(ctx, &TransformCommand{
		Timestamp:    t0,
		Author:       alice,
		Project:      "foo",
		Repository:   "bar",
		BaseRevision: revision.Head,
		Message:      dogma.CommitMessage{Summary: "bump a"},
		Path:         "/a.json",
		Transform: func(v any) (any, error) {
			doc := v.(map[string]any)
			doc["a"] = doc["a"].(float64) + 1
			return doc, nil
		},
	})
	require.NoError(t, err)
	push := res.(*PushResult)
	assert.Equal(t, revision.Revision(3), push.Revision)

	r, err := m.Repo("foo", "bar")
	require.NoError(t, err)
	entry, err := r.Get(push.Revision, dogma.NewQuery("/a.json"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(2)}, entry.Content)

	// A transform of a missing file fails before committing anything.
	_, err = e.Execute(ctx, &TransformCommand{
		Timestamp:    t0,
		Author:       alice,
		Project:      "foo",
		Repository:   "bar",
		BaseRevision: revision.Head,
		Path:         "/missing.json",
		Transform:    func(v any) (any, error) { return v, nil },
	})
	assert.True(t, plumbing.IsErrEntryNotFound(err))
}

type recordingKeys struct {
	calls []string
}

func (r *recordingKeys) RotateRepositoryKey(project, repo string) error {
	r.calls = append(r.calls, "repo:"+project+"/"+repo)
	return nil
}

func (r *recordingKeys) RotateMasterKey() error {
	r.calls = append(r.calls, "master")
	return nil
}

func TestKeyRotationCommands(t *testing.T) {
	e, _ := newTestExecutor(t)
	keys := &recordingKeys{}
	e.SetKeyHandler(keys)
	ctx := context.Background()

	_, err := e.Execute(ctx, &RotateRepositoryKeyCommand{Timestamp: t0, Author: alice, Project: "foo", Repository: "bar"})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &RotateMasterKeyCommand{Timestamp: t0, Author: alice})
	require.NoError(t, err)

	// The dedicated serial worker totally orders key material changes.
	assert.Equal(t, []string{"repo:foo/bar", "master"}, keys.calls)
}

func TestKeyRotationWithoutHandler(t *testing.T) {
	e, _ := newTestExecutor(t)
	_, err := e.Execute(context.Background(), &RotateMasterKeyCommand{Timestamp: t0, Author: alice})
	require.NoError(t, err)
}

func TestSessionCommands(t *testing.T) {
	e, sessions := newTestExecutor(t)
	ctx := context.Background()

	s := Session{ID: "s1", Principal: "alice", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	_, err := e.Execute(ctx, &CreateSessionCommand{Timestamp: t0, Session: s})
	require.NoError(t, err)
	_, err = e.Execute(ctx, &RemoveSessionCommand{Timestamp: t0, SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, []Session{s}, sessions.created)
	assert.Equal(t, []string{"s1"}, sessions.removed)
}
