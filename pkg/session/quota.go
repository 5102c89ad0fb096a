// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"golang.org/x/time/rate"
)

// Quota bounds how many pushes a repository accepts per time window. The
// zero value means unlimited.
type Quota struct {
	WritesPerWindow int           `json:"writesPerWindow"`
	Window          time.Duration `json:"window"`
}

func (q Quota) unlimited() bool { return q.WritesPerWindow <= 0 || q.Window <= 0 }

func (q Quota) limiter() *rate.Limiter {
	interval := q.Window / time.Duration(q.WritesPerWindow)
	return rate.NewLimiter(rate.Every(interval), q.WritesPerWindow)
}

// QuotaManager enforces per-repository write quotas. Repositories without
// an override use the default quota.
type QuotaManager struct {
	def Quota

	mu        sync.Mutex
	overrides map[string]Quota
	limiters  map[string]*rate.Limiter
}

func NewQuotaManager(def Quota) *QuotaManager {
	return &QuotaManager{
		def:       def,
		overrides: make(map[string]Quota),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// SetQuota overrides the quota of one repository and resets its limiter.
func (m *QuotaManager) SetQuota(project, repo string, q Quota) {
	key := project + "/" + repo
	m.mu.Lock()
	m.overrides[key] = q
	delete(m.limiters, key)
	m.mu.Unlock()
}

// AllowWrite consumes one write token for the repository, failing with
// ErrQuotaExceeded when the window budget is spent.
func (m *QuotaManager) AllowWrite(project, repo string) error {
	key := project + "/" + repo
	m.mu.Lock()
	q, ok := m.overrides[key]
	if !ok {
		q = m.def
	}
	if q.unlimited() {
		m.mu.Unlock()
		return nil
	}
	l, ok := m.limiters[key]
	if !ok {
		l = q.limiter()
		m.limiters[key] = l
	}
	m.mu.Unlock()

	if !l.Allow() {
		return plumbing.ErrQuotaExceeded
	}
	return nil
}
