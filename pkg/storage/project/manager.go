// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/antgroup/dogma/pkg/storage/repo"
	"github.com/sirupsen/logrus"
)

// Manager is the directory-based registry of projects under a data root.
// Every project is a subdirectory holding one subdirectory per repository.
type Manager struct {
	root string

	mu       sync.RWMutex
	projects map[string]*Project

	purgeDelay time.Duration
	stopPurge  chan struct{}
	startPurge sync.Once

	notifier repo.Notifier
}

// SetNotifier wires the watch service into every repository, present and
// future. Call it before serving traffic.
func (m *Manager) SetNotifier(n repo.Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
	for _, p := range m.projects {
		p.mu.Lock()
		for _, r := range p.repos {
			r.SetNotifier(n)
		}
		p.mu.Unlock()
	}
}

func NewManager(root string, purgeDelay time.Duration) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, plumbing.NewErrStorage(err)
	}
	m := &Manager{
		root:       root,
		projects:   make(map[string]*Project),
		purgeDelay: purgeDelay,
		stopPurge:  make(chan struct{}),
	}
	if err := m.scan(); err != nil {
		return nil, err
	}
	return m, nil
}

// scan loads every project directory present under the root.
func (m *Manager) scan() error {
	dirs, err := os.ReadDir(m.root)
	if err != nil {
		return plumbing.NewErrStorage(err)
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		p, err := m.loadProject(d.Name())
		if err != nil {
			logrus.Warnf("skipping unreadable project directory %s: %v", d.Name(), err)
			continue
		}
		m.projects[p.name] = p
	}
	return nil
}

func (m *Manager) loadProject(name string) (*Project, error) {
	dir := filepath.Join(m.root, name)
	meta, err := readMarker(dir)
	if err != nil {
		return nil, err
	}
	p := &Project{
		name:   name,
		dir:    dir,
		meta:   meta,
		repos:  make(map[string]*repo.Repository),
		rmetas: make(map[string]*marker),
	}
	repoDirs, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, rd := range repoDirs {
		if !rd.IsDir() {
			continue
		}
		rdir := filepath.Join(dir, rd.Name())
		rmeta, err := readMarker(rdir)
		if err != nil {
			continue
		}
		r, err := repo.Open(name, rd.Name(), rdir)
		if err != nil {
			logrus.Warnf("skipping unreadable repository %s/%s: %v", name, rd.Name(), err)
			continue
		}
		p.repos[rd.Name()] = r
		p.rmetas[rd.Name()] = rmeta
	}
	return p, nil
}

// Create makes a new project along with its two reserved repositories and
// bootstraps /metadata.json inside the internal repository.
func (m *Manager) Create(name string, author dogma.Author, ts time.Time) (*Project, error) {
	if err := plumbing.ValidateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[name]; ok {
		return nil, &plumbing.ErrProjectExists{Name: name}
	}
	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, plumbing.NewErrStorage(err)
	}
	meta := &marker{Name: name, Author: author, CreatedAt: ts}
	if err := writeMarker(dir, meta); err != nil {
		return nil, plumbing.NewErrStorage(err)
	}
	p := &Project{
		name:   name,
		dir:    dir,
		meta:   meta,
		repos:  make(map[string]*repo.Repository),
		rmetas: make(map[string]*marker),
	}
	for _, rname := range []string{MetaRepo, DogmaRepo} {
		if _, err := m.createRepoLocked(p, rname, author, ts); err != nil {
			return nil, err
		}
	}
	if err := m.bootstrapMetadata(p, author, ts); err != nil {
		return nil, err
	}
	m.projects[name] = p
	return p, nil
}

// bootstrapMetadata writes the initial /metadata.json into the internal
// repository with a normal commit.
func (m *Manager) bootstrapMetadata(p *Project, author dogma.Author, ts time.Time) error {
	r := p.repos[DogmaRepo]
	metadata := map[string]any{
		"name":    p.name,
		"members": map[string]any{},
		"repos":   map[string]any{},
		"creation": map[string]any{
			"user":      author.Email,
			"timestamp": ts.UTC().Format(time.RFC3339),
		},
	}
	_, _, err := r.Commit(revision.Head, ts, author,
		dogma.CommitMessage{Summary: "Initialize the project metadata"},
		[]dogma.Change{dogma.NewUpsertJSON("/metadata.json", metadata)}, true)
	return err
}

// Metadata reads the project metadata document from the internal
// repository.
func (m *Manager) Metadata(name string) (map[string]any, error) {
	p, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	r, ok := p.Repo(DogmaRepo)
	if !ok {
		return nil, &plumbing.ErrRepositoryNotFound{Name: name + "/" + DogmaRepo}
	}
	entry, err := r.Get(revision.Head, dogma.NewQuery("/metadata.json"))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, plumbing.NewErrEntryNotFound("/metadata.json")
	}
	raw, err := json.Marshal(entry.Content)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) Get(name string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[name]
	if !ok || p.meta.removed() {
		return nil, &plumbing.ErrProjectNotFound{Name: name}
	}
	return p, nil
}

func (m *Manager) Exists(name string) bool {
	_, err := m.Get(name)
	return err == nil
}

// List returns active project names in sorted order. The internal project
// is included only when admin is set.
func (m *Manager) List(admin bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.projects))
	for name, p := range m.projects {
		if p.meta.removed() {
			continue
		}
		if name == InternalProject && !admin {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRemoved returns removed-but-not-purged project names.
func (m *Manager) ListRemoved() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, p := range m.projects {
		if p.meta.removed() && p.meta.PurgeAt == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Remove soft-deletes a project: it disappears from listings but stays
// restorable until purged.
func (m *Manager) Remove(name string, ts time.Time) error {
	if name == InternalProject {
		return plumbing.ErrPermissionDenied
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[name]
	if !ok || p.meta.removed() {
		return &plumbing.ErrProjectNotFound{Name: name}
	}
	p.meta.RemovedAt = &ts
	return writeMarker(p.dir, p.meta)
}

// Unremove restores a removed project.
func (m *Manager) Unremove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[name]
	if !ok {
		return &plumbing.ErrProjectNotFound{Name: name}
	}
	if !p.meta.removed() || p.meta.PurgeAt != nil {
		return &plumbing.ErrProjectNotFound{Name: name}
	}
	p.meta.RemovedAt = nil
	return writeMarker(p.dir, p.meta)
}

// MarkForPurge schedules physical deletion; purge is terminal.
func (m *Manager) MarkForPurge(name string, ts time.Time) error {
	if name == InternalProject {
		return plumbing.ErrPermissionDenied
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[name]
	if !ok {
		return &plumbing.ErrProjectNotFound{Name: name}
	}
	if !p.meta.removed() {
		p.meta.RemovedAt = &ts
	}
	p.meta.PurgeAt = &ts
	return writeMarker(p.dir, p.meta)
}

func (m *Manager) createRepoLocked(p *Project, name string, author dogma.Author, ts time.Time) (*repo.Repository, error) {
	if err := plumbing.ValidateName(name); err != nil {
		return nil, err
	}
	if _, ok := p.repos[name]; ok {
		return nil, &plumbing.ErrRepositoryExists{Name: p.name + "/" + name}
	}
	rdir := filepath.Join(p.dir, name)
	rmeta := &marker{Name: name, Author: author, CreatedAt: ts}
	if err := os.MkdirAll(rdir, 0755); err != nil {
		return nil, plumbing.NewErrStorage(err)
	}
	if err := writeMarker(rdir, rmeta); err != nil {
		return nil, plumbing.NewErrStorage(err)
	}
	r, err := repo.Create(p.name, name, rdir, author, ts)
	if err != nil {
		return nil, err
	}
	if m.notifier != nil {
		r.SetNotifier(m.notifier)
	}
	p.repos[name] = r
	p.rmetas[name] = rmeta
	return r, nil
}

// CreateRepo adds a repository to an existing project.
func (m *Manager) CreateRepo(project, name string, author dogma.Author, ts time.Time) (*repo.Repository, error) {
	p, err := m.Get(project)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return m.createRepoLocked(p, name, author, ts)
}

// RemoveRepo soft-deletes a repository. The reserved repositories refuse
// removal.
func (m *Manager) RemoveRepo(project, name string, ts time.Time) error {
	if name == MetaRepo || name == DogmaRepo {
		return plumbing.ErrPermissionDenied
	}
	p, err := m.Get(project)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rmeta, ok := p.rmetas[name]
	if !ok || rmeta.removed() {
		return &plumbing.ErrRepositoryNotFound{Name: project + "/" + name}
	}
	rmeta.RemovedAt = &ts
	return writeMarker(filepath.Join(p.dir, name), rmeta)
}

// UnremoveRepo restores a removed repository.
func (m *Manager) UnremoveRepo(project, name string) error {
	p, err := m.Get(project)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rmeta, ok := p.rmetas[name]
	if !ok || !rmeta.removed() || rmeta.PurgeAt != nil {
		return &plumbing.ErrRepositoryNotFound{Name: project + "/" + name}
	}
	rmeta.RemovedAt = nil
	return writeMarker(filepath.Join(p.dir, name), rmeta)
}

// MarkRepoForPurge schedules physical deletion of a repository.
func (m *Manager) MarkRepoForPurge(project, name string, ts time.Time) error {
	if name == MetaRepo || name == DogmaRepo {
		return plumbing.ErrPermissionDenied
	}
	p, err := m.Get(project)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rmeta, ok := p.rmetas[name]
	if !ok {
		return &plumbing.ErrRepositoryNotFound{Name: project + "/" + name}
	}
	if !rmeta.removed() {
		rmeta.RemovedAt = &ts
	}
	rmeta.PurgeAt = &ts
	return writeMarker(filepath.Join(p.dir, name), rmeta)
}

// Repo resolves an active repository of an active project.
func (m *Manager) Repo(project, name string) (*repo.Repository, error) {
	p, err := m.Get(project)
	if err != nil {
		return nil, err
	}
	r, ok := p.Repo(name)
	if !ok {
		return nil, &plumbing.ErrRepositoryNotFound{Name: project + "/" + name}
	}
	return r, nil
}
