// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/antgroup/dogma/modules/pathpattern"
	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/modules/store"
	"github.com/antgroup/dogma/pkg/dogma"
)

func (r *Repository) commitAt(rev revision.Revision) (*dogma.Commit, error) {
	c, err := r.store.CommitAt(int64(rev))
	if err != nil {
		return nil, err
	}
	return toCommit(c), nil
}

func toCommit(c *store.Commit) *dogma.Commit {
	out := &dogma.Commit{
		Revision: revision.Revision(c.Revision),
		Author:   dogma.Author{Name: c.Author.Name, Email: c.Author.Email},
		PushedAt: time.UnixMilli(c.PushedAt).UTC(),
		CommitMessage: dogma.CommitMessage{
			Summary: c.Summary,
			Detail:  c.Detail,
			Markup:  dogma.Markup(c.Markup),
		},
	}
	if len(c.Changes) != 0 {
		_ = json.Unmarshal(c.Changes, &out.Changes)
	}
	return out
}

// Get reads the entry at path and applies the query projection. It returns
// (nil, nil) when the path does not exist at that revision.
func (r *Repository) Get(rev revision.Revision, query *dogma.Query) (*dogma.Entry, error) {
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, err
	}
	path, err := plumbing.NormalizePath(query.Path)
	if err != nil {
		return nil, err
	}
	tree, err := r.store.TreeAt(int64(abs))
	if err != nil {
		return nil, err
	}
	te := tree.Find(path)
	if te == nil {
		return nil, nil
	}
	data, err := r.store.ReadBlob(te.Blob)
	if err != nil {
		return nil, err
	}
	entry, err := dogma.NewEntry(abs, path, dogma.EntryType(te.Kind), data)
	if err != nil {
		return nil, err
	}
	projected, err := query.Apply(entry)
	if err != nil {
		return nil, err
	}
	entry.Content = projected
	return entry, nil
}

// Exists reports whether the path exists at the revision.
func (r *Repository) Exists(rev revision.Revision, path string) (bool, error) {
	abs, err := r.Normalize(rev)
	if err != nil {
		return false, err
	}
	p, err := plumbing.NormalizePath(path)
	if err != nil {
		return false, err
	}
	tree, err := r.store.TreeAt(int64(abs))
	if err != nil {
		return false, err
	}
	return tree.Find(p) != nil, nil
}

// List returns the entries matching the pattern at the revision in
// lexicographic path order. Directories appear as DIRECTORY entries
// without content.
func (r *Repository) List(rev revision.Revision, pattern *pathpattern.Pattern) ([]*dogma.Entry, error) {
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, err
	}
	tree, err := r.store.TreeAt(int64(abs))
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]struct{})
	for _, te := range tree.Entries {
		for _, d := range plumbing.ParentDirs(te.Path) {
			dirs[d] = struct{}{}
		}
	}

	var entries []*dogma.Entry
	for d := range dirs {
		if pattern.Matches(d) {
			entries = append(entries, &dogma.Entry{Path: d, Type: dogma.Directory, Revision: abs})
		}
	}
	for _, te := range tree.Entries {
		if !pattern.Matches(te.Path) {
			continue
		}
		entries = append(entries, &dogma.Entry{Path: te.Path, Type: dogma.EntryType(te.Kind), Revision: abs})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// History walks the closed revision interval between from and to, keeping
// commits whose change set touches the pattern. Results follow the
// from->to direction: newest first when from > to.
func (r *Repository) History(from, to revision.Revision, pattern *pathpattern.Pattern, maxCommits int) ([]*dogma.Commit, error) {
	fromAbs, err := r.Normalize(from)
	if err != nil {
		return nil, err
	}
	toAbs, err := r.Normalize(to)
	if err != nil {
		return nil, err
	}
	lo, hi := fromAbs, toAbs
	descending := fromAbs >= toAbs
	if descending {
		lo, hi = toAbs, fromAbs
	}
	if maxCommits <= 0 {
		maxCommits = int(hi-lo) + 1
	}

	var commits []*dogma.Commit
	appendIfTouches := func(rev revision.Revision) (bool, error) {
		c, err := r.commitAt(rev)
		if err != nil {
			return false, err
		}
		if !pattern.MatchesAny(c.Paths()) {
			return false, nil
		}
		commits = append(commits, c)
		return len(commits) >= maxCommits, nil
	}

	if descending {
		for rev := hi; rev >= lo; rev-- {
			if full, err := appendIfTouches(rev); err != nil {
				return nil, err
			} else if full {
				break
			}
		}
	} else {
		for rev := lo; rev <= hi; rev++ {
			if full, err := appendIfTouches(rev); err != nil {
				return nil, err
			} else if full {
				break
			}
		}
	}
	return commits, nil
}

// Diff computes the changes transforming the tree at from into the tree at
// to, restricted to the pattern.
func (r *Repository) Diff(from, to revision.Revision, pattern *pathpattern.Pattern) ([]dogma.Change, error) {
	fromAbs, err := r.Normalize(from)
	if err != nil {
		return nil, err
	}
	toAbs, err := r.Normalize(to)
	if err != nil {
		return nil, err
	}
	fromMap, err := r.treeMapAt(fromAbs)
	if err != nil {
		return nil, err
	}
	toMap, err := r.treeMapAt(toAbs)
	if err != nil {
		return nil, err
	}
	return dogma.DiffTrees(fromMap, toMap, pattern)
}

// DiffFile computes the single change of one queried file between two
// revisions; projections apply before comparison.
func (r *Repository) DiffFile(from, to revision.Revision, query *dogma.Query) (*dogma.Change, error) {
	before, err := r.Get(from, query)
	if err != nil {
		return nil, err
	}
	after, err := r.Get(to, query)
	if err != nil {
		return nil, err
	}
	pattern, err := pathpattern.Compile(query.Path)
	if err != nil {
		return nil, err
	}
	fromMap, toMap := dogma.TreeMap{}, dogma.TreeMap{}
	if before != nil {
		data, err := before.ContentBytes()
		if err != nil {
			return nil, err
		}
		fromMap[before.Path] = dogma.Document{Type: before.Type, Data: data}
	}
	if after != nil {
		data, err := after.ContentBytes()
		if err != nil {
			return nil, err
		}
		toMap[after.Path] = dogma.Document{Type: after.Type, Data: data}
	}
	changes, err := dogma.DiffTrees(fromMap, toMap, pattern)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return &changes[0], nil
}

// PreviewDiff applies the change set in memory against base and returns
// the subset that would actually alter state.
func (r *Repository) PreviewDiff(base revision.Revision, changes []dogma.Change) ([]dogma.Change, error) {
	abs, err := r.Normalize(base)
	if err != nil {
		return nil, err
	}
	baseMap, err := r.treeMapAt(abs)
	if err != nil {
		return nil, err
	}
	applied, _, err := dogma.ApplyChanges(baseMap, changes, true)
	if err != nil {
		if plumbing.IsErrRedundantChange(err) {
			return nil, nil
		}
		return nil, err
	}
	return applied, nil
}

// MergeQuery reads every source file at the revision, deep-merges them in
// listing order and applies the optional expressions.
func (r *Repository) MergeQuery(rev revision.Revision, q *dogma.MergeQuery) (*dogma.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, err
	}
	docs := make([]any, 0, len(q.Sources))
	for _, src := range q.Sources {
		entry, err := r.Get(abs, dogma.NewQuery(src.Path))
		if err != nil {
			return nil, err
		}
		if entry == nil {
			if src.Optional {
				continue
			}
			return nil, plumbing.NewErrEntryNotFound(src.Path)
		}
		docs = append(docs, entry.Content)
	}
	if len(docs) == 0 {
		return nil, plumbing.NewErrEntryNotFound("no merge sources exist")
	}
	merged, err := q.ApplyExpressions(dogma.Merge(docs...))
	if err != nil {
		return nil, err
	}
	return &dogma.Entry{Path: q.Sources[len(q.Sources)-1].Path, Type: dogma.JSON, Revision: abs, Content: merged}, nil
}

// ChangedPaths returns the union of paths touched by commits in
// (from..to]. The watch service uses it to evaluate path-pattern matchers.
func (r *Repository) ChangedPaths(from, to revision.Revision) ([]string, error) {
	set := make(map[string]struct{})
	for rev := from + 1; rev <= to; rev++ {
		c, err := r.commitAt(rev)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Paths() {
			set[p] = struct{}{}
		}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}
