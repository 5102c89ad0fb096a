// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/antgroup/dogma/pkg/storage/cache"
	"github.com/antgroup/dogma/pkg/storage/project"
	"github.com/antgroup/dogma/pkg/storage/repo"
)

// SessionHandler applies replicated session commands to the local session
// store.
type SessionHandler interface {
	CreateSession(s Session) error
	RemoveSession(id string) error
}

// KeyHandler rotates encryption key material for repositories encrypted at
// rest. The executor totally orders calls on a dedicated serial worker, so
// key material changes never interleave.
type KeyHandler interface {
	RotateRepositoryKey(project, repo string) error
	RotateMasterKey() error
}

// StandaloneExecutor applies commands directly to local storage. It is the
// whole story for single-node deployments and the delegate the replicated
// executor replays through on every node.
type StandaloneExecutor struct {
	lc       lifecycle
	projects *project.Manager
	cache    *cache.Cache
	pool     *repo.Pool
	sessions SessionHandler
	keys     KeyHandler
	keyExec  *repo.Pool

	writable atomic.Bool
}

// NewStandaloneExecutor wires an executor over local storage. cache and
// sessions may be nil.
func NewStandaloneExecutor(projects *project.Manager, c *cache.Cache, pool *repo.Pool, sessions SessionHandler) *StandaloneExecutor {
	e := &StandaloneExecutor{
		projects: projects,
		cache:    c,
		pool:     pool,
		sessions: sessions,
		keyExec:  repo.NewPool(1),
	}
	e.writable.Store(true)
	return e
}

// SetKeyHandler installs the key rotation backend. Without one, key rotation
// commands are ignored, for deployments without encryption at rest.
func (e *StandaloneExecutor) SetKeyHandler(h KeyHandler) { e.keys = h }

func (e *StandaloneExecutor) Start(onTakeLeadership, onReleaseLeadership func()) error {
	if err := e.lc.start(onTakeLeadership, onReleaseLeadership); err != nil {
		return err
	}
	// A standalone node is always the leader.
	e.lc.takeLeadership()
	return nil
}

func (e *StandaloneExecutor) Stop() error {
	if e.lc.beginStop() {
		e.lc.releaseLeadership()
		e.lc.finishStop()
	}
	e.keyExec.Close()
	return nil
}

func (e *StandaloneExecutor) State() State     { return e.lc.current() }
func (e *StandaloneExecutor) IsWritable() bool { return e.writable.Load() }

// requiresWritable reports whether cmd is rejected while read-only. Only a
// force push passes the gate; status restoration and session upkeep are
// wrapped in one by their callers.
func requiresWritable(cmd Command) bool {
	_, force := cmd.(*ForcePushCommand)
	return !force
}

func (e *StandaloneExecutor) Execute(ctx context.Context, cmd Command) (any, error) {
	if st := e.lc.current(); st != StateStarted {
		return nil, fmt.Errorf("executor is %s, cannot execute %s", st, cmd.Type())
	}
	if !e.writable.Load() && requiresWritable(cmd) {
		return nil, plumbing.ErrReadOnly
	}
	return e.dispatch(ctx, cmd)
}

func (e *StandaloneExecutor) dispatch(ctx context.Context, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case *ForcePushCommand:
		return e.dispatch(ctx, c.Wrapped)
	case *CreateProjectCommand:
		_, err := e.projects.Create(c.Project, c.Author, c.Timestamp)
		return nil, err
	case *RemoveProjectCommand:
		return nil, e.projects.Remove(c.Project, c.Timestamp)
	case *UnremoveProjectCommand:
		return nil, e.projects.Unremove(c.Project)
	case *PurgeProjectCommand:
		return nil, e.projects.MarkForPurge(c.Project, c.Timestamp)
	case *CreateRepositoryCommand:
		_, err := e.projects.CreateRepo(c.Project, c.Repository, c.Author, c.Timestamp)
		return nil, err
	case *RemoveRepositoryCommand:
		if err := e.projects.RemoveRepo(c.Project, c.Repository, c.Timestamp); err != nil {
			return nil, err
		}
		e.invalidate(c.Project, c.Repository)
		return nil, nil
	case *UnremoveRepositoryCommand:
		return nil, e.projects.UnremoveRepo(c.Project, c.Repository)
	case *PurgeRepositoryCommand:
		if err := e.projects.MarkRepoForPurge(c.Project, c.Repository, c.Timestamp); err != nil {
			return nil, err
		}
		e.invalidate(c.Project, c.Repository)
		return nil, nil
	case *PushCommand:
		return e.push(ctx, c)
	case *TransformCommand:
		push, err := e.materialize(c)
		if err != nil {
			return nil, err
		}
		return e.push(ctx, push)
	case *CreateSessionCommand:
		if e.sessions == nil {
			return nil, nil
		}
		return nil, e.sessions.CreateSession(c.Session)
	case *RemoveSessionCommand:
		if e.sessions == nil {
			return nil, nil
		}
		return nil, e.sessions.RemoveSession(c.SessionID)
	case *UpdateServerStatusCommand:
		e.writable.Store(c.Writable)
		return nil, nil
	case *RotateRepositoryKeyCommand:
		return nil, e.rotateKeys(ctx, func(h KeyHandler) error {
			return h.RotateRepositoryKey(c.Project, c.Repository)
		})
	case *RotateMasterKeyCommand:
		return nil, e.rotateKeys(ctx, func(h KeyHandler) error {
			return h.RotateMasterKey()
		})
	}
	return nil, fmt.Errorf("unknown command type %q", cmd.Type())
}

// Prepare rewrites commands that cannot travel the replication log: a
// transform command is evaluated against local storage and becomes the
// normalizing push it produces. Every other command passes through unchanged.
func (e *StandaloneExecutor) Prepare(cmd Command) (Command, error) {
	switch c := cmd.(type) {
	case *TransformCommand:
		return e.materialize(c)
	case *ForcePushCommand:
		inner, err := e.Prepare(c.Wrapped)
		if err != nil {
			return nil, err
		}
		return &ForcePushCommand{Wrapped: inner}, nil
	}
	return cmd, nil
}

// materialize evaluates a transform against the current value of its file.
// The resulting push still carries the caller's base revision, so the usual
// conflict check applies when it commits.
func (e *StandaloneExecutor) materialize(c *TransformCommand) (*PushCommand, error) {
	if c.Transform == nil {
		return nil, fmt.Errorf("transform command for %s/%s has no transform function", c.Project, c.Repository)
	}
	r, err := e.projects.Repo(c.Project, c.Repository)
	if err != nil {
		return nil, err
	}
	entry, err := r.Get(c.BaseRevision, dogma.NewQuery(c.Path))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, plumbing.NewErrEntryNotFound(c.Path)
	}
	value, err := c.Transform(entry.Content)
	if err != nil {
		return nil, err
	}
	var change dogma.Change
	switch entry.Type {
	case dogma.JSON:
		change = dogma.NewUpsertJSON(entry.Path, value)
	case dogma.YAML:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("transform of %s must produce a string, got %T", entry.Path, value)
		}
		change = dogma.NewUpsertYAML(entry.Path, s)
	default:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("transform of %s must produce a string, got %T", entry.Path, value)
		}
		change = dogma.NewUpsertText(entry.Path, s)
	}
	return &PushCommand{
		Timestamp:    c.Timestamp,
		Author:       c.Author,
		Project:      c.Project,
		Repository:   c.Repository,
		BaseRevision: c.BaseRevision,
		Message:      c.Message,
		Changes:      []dogma.Change{change},
		Normalizing:  true,
	}, nil
}

// rotateKeys runs key material I/O on the dedicated single-slot worker, so
// rotations are totally ordered with respect to each other.
func (e *StandaloneExecutor) rotateKeys(ctx context.Context, fn func(KeyHandler) error) error {
	if e.keys == nil {
		return nil
	}
	return e.keyExec.Do(ctx, "keys", func() error { return fn(e.keys) })
}

// push runs the commit on the repository's worker slot so that writes to one
// repository never reorder and never block another repository.
func (e *StandaloneExecutor) push(ctx context.Context, c *PushCommand) (*PushResult, error) {
	r, err := e.projects.Repo(c.Project, c.Repository)
	if err != nil {
		return nil, err
	}
	var rev revision.Revision
	err = e.pool.Do(ctx, c.Project+"/"+c.Repository, func() error {
		var cerr error
		rev, _, cerr = r.Commit(c.BaseRevision, c.Timestamp, c.Author, c.Message, c.Changes, c.Normalizing)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	e.invalidate(c.Project, c.Repository)
	return &PushResult{Revision: rev, PushedAt: c.Timestamp}, nil
}

func (e *StandaloneExecutor) invalidate(project, repo string) {
	if e.cache != nil {
		e.cache.Invalidate(project, repo)
	}
}
