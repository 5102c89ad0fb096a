// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"sort"
	"sync"

	"github.com/antgroup/dogma/modules/revision"
)

// Progress is the watch position of one repository: the newest revision
// the service was told about and the newest revision actually handed to a
// watcher. A widening gap means watchers fall behind.
type Progress struct {
	Project  string `json:"project"`
	Repo     string `json:"repo"`
	Notified int64  `json:"notifiedRevision"`
	Watcher  int64  `json:"watcherRevision"`
}

// Metrics records watch progress per repository. Both counters only move
// forward.
type Metrics struct {
	mu      sync.Mutex
	entries map[string]*Progress
}

func NewMetrics() *Metrics {
	return &Metrics{entries: make(map[string]*Progress)}
}

func (m *Metrics) entry(project, repo string) *Progress {
	key := project + "/" + repo
	p, ok := m.entries[key]
	if !ok {
		p = &Progress{Project: project, Repo: repo}
		m.entries[key] = p
	}
	return p
}

func (m *Metrics) RecordNotified(project, repo string, rev revision.Revision) {
	m.mu.Lock()
	p := m.entry(project, repo)
	if v := int64(rev); v > p.Notified {
		p.Notified = v
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordDelivered(project, repo string, rev revision.Revision) {
	m.mu.Lock()
	p := m.entry(project, repo)
	if v := int64(rev); v > p.Watcher {
		p.Watcher = v
	}
	m.mu.Unlock()
}

// Snapshot returns a stable-ordered copy of all progress records.
func (m *Metrics) Snapshot() []Progress {
	m.mu.Lock()
	out := make([]Progress, 0, len(m.entries))
	for _, p := range m.entries {
		out = append(out, *p)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Repo < out[j].Repo
	})
	return out
}
