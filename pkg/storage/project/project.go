// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/antgroup/dogma/pkg/storage/repo"
)

const (
	// MetaRepo holds project metadata and mirror configuration.
	MetaRepo = "meta"
	// DogmaRepo holds internal operational data.
	DogmaRepo = "dogma"
	// InternalProject is reserved, invisible to non-administrators and
	// refuses mutation through the public surface.
	InternalProject = "dogma"

	markerFile = ".dogma-meta.json"
)

// marker is the on-disk lifecycle record of a project or repository
// directory.
type marker struct {
	Name      string       `json:"name"`
	Author    dogma.Author `json:"author"`
	CreatedAt time.Time    `json:"createdAt"`
	RemovedAt *time.Time   `json:"removedAt,omitempty"`
	PurgeAt   *time.Time   `json:"purgeAt,omitempty"`
}

func (m *marker) removed() bool { return m.RemovedAt != nil }

func readMarker(dir string) (*marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err != nil {
		return nil, err
	}
	m := new(marker)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeMarker(dir string, m *marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, markerFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, markerFile))
}

// Project is a named container of repositories.
type Project struct {
	name string
	dir  string

	mu     sync.RWMutex
	meta   *marker
	repos  map[string]*repo.Repository
	rmetas map[string]*marker
}

func (p *Project) Name() string          { return p.name }
func (p *Project) Author() dogma.Author  { return p.meta.Author }
func (p *Project) CreatedAt() time.Time  { return p.meta.CreatedAt }
func (p *Project) RemovedAt() *time.Time { return p.meta.RemovedAt }

// Repo returns the named active repository.
func (p *Project) Repo(name string) (*repo.Repository, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.repos[name]
	if !ok {
		return nil, false
	}
	if m := p.rmetas[name]; m != nil && m.removed() {
		return nil, false
	}
	return r, true
}

// Repos lists active repository names in no particular order.
func (p *Project) Repos() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.repos))
	for name := range p.repos {
		if m := p.rmetas[name]; m != nil && m.removed() {
			continue
		}
		names = append(names, name)
	}
	return names
}

// RemovedRepos lists repositories that were removed but not purged.
func (p *Project) RemovedRepos() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var names []string
	for name, m := range p.rmetas {
		if m.removed() && m.PurgeAt == nil {
			names = append(names, name)
		}
	}
	return names
}
