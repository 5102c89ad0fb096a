// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/modules/store"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/sirupsen/logrus"
)

// Notifier is told about every successful commit so that pending watchers
// can be woken. The repository engine never blocks on it.
type Notifier interface {
	Notify(project, repo string, rev revision.Revision)
}

// Repository is one ordered sequence of commits over a content-addressed
// object store. Writers are serialized by the repository worker slot plus
// the internal mutex; readers are never blocked by writers.
type Repository struct {
	project string
	name    string
	store   *store.Store

	mu       sync.Mutex // serializes commit
	head     atomic.Int64
	quiesced atomic.Bool

	notifier Notifier
}

const initialCommitSummary = "Create a new repository"

// Create initializes a repository directory with its initial commit at
// revision 1 (an empty tree).
func Create(project, name, dir string, author dogma.Author, ts time.Time) (*Repository, error) {
	s, err := store.Open(dir)
	if err != nil {
		return nil, err
	}
	if _, err := s.Ref(store.HEAD); err == nil {
		return nil, &plumbing.ErrRepositoryExists{Name: project + "/" + name}
	}
	tree := &store.Tree{}
	treeOID, err := s.PutTree(tree)
	if err != nil {
		return nil, err
	}
	c := &store.Commit{
		Tree:     treeOID,
		Revision: int64(revision.Init),
		Author:   store.Signature{Name: author.Name, Email: author.Email},
		PushedAt: ts.UnixMilli(),
		Summary:  initialCommitSummary,
	}
	oid, err := s.PutCommit(c)
	if err != nil {
		return nil, err
	}
	if err := s.PutTag(c.Revision, oid); err != nil {
		return nil, err
	}
	if err := s.UpdateRef(store.HEAD, plumbing.ZeroHash, oid); err != nil {
		return nil, err
	}
	r := &Repository{project: project, name: name, store: s}
	r.head.Store(c.Revision)
	return r, nil
}

// Open loads an existing repository and caches its head revision.
func Open(project, name, dir string) (*Repository, error) {
	s, err := store.Open(dir)
	if err != nil {
		return nil, err
	}
	oid, err := s.Ref(store.HEAD)
	if err != nil {
		if err == store.ErrRefNotFound {
			return nil, &plumbing.ErrRepositoryNotFound{Name: project + "/" + name}
		}
		return nil, err
	}
	c, err := s.ReadCommit(oid)
	if err != nil {
		return nil, err
	}
	r := &Repository{project: project, name: name, store: s}
	r.head.Store(c.Revision)
	return r, nil
}

func (r *Repository) Project() string { return r.project }
func (r *Repository) Name() string    { return r.name }

// SetNotifier wires the watch service; must be called before serving.
func (r *Repository) SetNotifier(n Notifier) { r.notifier = n }

// Head returns the current head revision.
func (r *Repository) Head() revision.Revision {
	return revision.Revision(r.head.Load())
}

// Normalize resolves a relative revision against the current head.
func (r *Repository) Normalize(rev revision.Revision) (revision.Revision, error) {
	return revision.Normalize(rev, r.Head())
}

// Quiesced reports whether the repository stopped accepting writes after an
// unrecoverable storage failure.
func (r *Repository) Quiesced() bool { return r.quiesced.Load() }

// ClearQuiesce re-enables writes after operator intervention.
func (r *Repository) ClearQuiesce() { r.quiesced.Store(false) }

func (r *Repository) quiesce(err error) {
	if r.quiesced.CompareAndSwap(false, true) {
		logrus.Errorf("repository %s/%s quiesced after storage failure: %v", r.project, r.name, err)
	}
}

// treeMapAt materializes the full path -> document view at an absolute
// revision.
func (r *Repository) treeMapAt(rev revision.Revision) (dogma.TreeMap, error) {
	tree, err := r.store.TreeAt(int64(rev))
	if err != nil {
		return nil, err
	}
	m := make(dogma.TreeMap, len(tree.Entries))
	for _, e := range tree.Entries {
		data, err := r.store.ReadBlob(e.Blob)
		if err != nil {
			return nil, err
		}
		m[e.Path] = dogma.Document{Type: dogma.EntryType(e.Kind), Data: data}
	}
	return m, nil
}

// Commit applies a change set on top of base and appends a new commit at
// head+1. When base is older than head, the commit is accepted only if no
// interleaved commit touched any of the incoming paths.
func (r *Repository) Commit(base revision.Revision, ts time.Time, author dogma.Author,
	msg dogma.CommitMessage, changes []dogma.Change, normalizing bool) (revision.Revision, []dogma.Change, error) {
	if r.Quiesced() {
		return 0, nil, plumbing.NewErrStorage(errDormant)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	head := r.Head()
	baseAbs, err := revision.Normalize(base, head)
	if err != nil {
		return 0, nil, err
	}
	if baseAbs != head {
		if err := r.checkConflict(baseAbs, head, changes); err != nil {
			return 0, nil, err
		}
	}

	baseMap, err := r.treeMapAt(head)
	if err != nil {
		return 0, nil, r.storageFailure(err)
	}
	applied, nextMap, err := dogma.ApplyChanges(baseMap, changes, normalizing)
	if err != nil {
		return 0, nil, err
	}

	newRev, err := r.append(head, ts, author, msg, applied, nextMap)
	if err != nil {
		return 0, nil, err
	}
	if r.notifier != nil {
		r.notifier.Notify(r.project, r.name, newRev)
	}
	return newRev, applied, nil
}

// checkConflict rejects the change set if any of its paths was touched by a
// commit in (base..head].
func (r *Repository) checkConflict(base, head revision.Revision, changes []dogma.Change) error {
	incoming := pathSet(changes)
	for rev := base + 1; rev <= head; rev++ {
		c, err := r.commitAt(rev)
		if err != nil {
			return err
		}
		for _, p := range c.Paths() {
			if _, ok := incoming[p]; ok {
				return plumbing.NewErrChangeConflict(
					"'%s' was modified at revision %d (base: %d, head: %d)", p, rev, base, head)
			}
		}
	}
	return nil
}

func pathSet(changes []dogma.Change) map[string]struct{} {
	set := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		if p, err := plumbing.NormalizePath(c.Path); err == nil {
			set[p] = struct{}{}
		}
		if c.Type == dogma.Rename {
			if to, err := c.NewPath(); err == nil {
				set[to] = struct{}{}
			}
		}
	}
	return set
}

// append writes blobs, tree, commit and tag, then advances HEAD by CAS.
// Either everything becomes visible or nothing does.
func (r *Repository) append(head revision.Revision, ts time.Time, author dogma.Author,
	msg dogma.CommitMessage, applied []dogma.Change, next dogma.TreeMap) (revision.Revision, error) {
	tree := &store.Tree{Entries: make([]store.TreeEntry, 0, len(next))}
	for path, doc := range next {
		oid, err := r.store.PutBlob(doc.Data)
		if err != nil {
			return 0, r.storageFailure(err)
		}
		tree.Entries = append(tree.Entries, store.TreeEntry{Path: path, Kind: string(doc.Type), Blob: oid})
	}
	treeOID, err := r.store.PutTree(tree)
	if err != nil {
		return 0, r.storageFailure(err)
	}

	parent, err := r.store.Ref(store.HEAD)
	if err != nil {
		return 0, r.storageFailure(err)
	}
	rawChanges, err := json.Marshal(applied)
	if err != nil {
		return 0, err
	}
	newRev := head + 1
	c := &store.Commit{
		Parent:   parent,
		Tree:     treeOID,
		Revision: int64(newRev),
		Author:   store.Signature{Name: author.Name, Email: author.Email},
		PushedAt: ts.UnixMilli(),
		Summary:  msg.Summary,
		Detail:   msg.Detail,
		Markup:   string(msg.Markup),
		Changes:  rawChanges,
	}
	oid, err := r.store.PutCommit(c)
	if err != nil {
		return 0, r.storageFailure(err)
	}
	if err := r.store.PutTag(c.Revision, oid); err != nil {
		return 0, r.storageFailure(err)
	}
	if err := r.store.UpdateRef(store.HEAD, parent, oid); err != nil {
		if err == store.ErrStaleRef {
			return 0, plumbing.NewErrChangeConflict("concurrent update of %s/%s", r.project, r.name)
		}
		return 0, r.storageFailure(err)
	}
	r.head.Store(c.Revision)
	return newRev, nil
}

func (r *Repository) storageFailure(err error) error {
	if plumbing.IsErrStorage(err) {
		r.quiesce(err)
		return err
	}
	return err
}

type dormantError struct{}

func (dormantError) Error() string { return "repository is quiesced after a storage failure" }

var errDormant = dormantError{}
