// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package watch wakes long-polling clients when a repository receives a
// commit they care about.
package watch

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/antgroup/dogma/modules/pathpattern"
	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/antgroup/dogma/pkg/storage/repo"
)

// Service tracks pending watchers per repository. Repositories call Notify
// on every successful commit; Notify never blocks on a slow watcher.
type Service struct {
	mu      sync.Mutex
	waiters map[string]map[*waiter]struct{}

	metrics *Metrics
}

type waiter struct {
	ch chan revision.Revision // buffer 1; coalesces bursts
}

func NewService() *Service {
	return &Service{
		waiters: make(map[string]map[*waiter]struct{}),
		metrics: NewMetrics(),
	}
}

// Metrics exposes the watch progress registry.
func (s *Service) Metrics() *Metrics { return s.metrics }

func repoKey(project, name string) string { return project + "/" + name }

// Notify implements repo.Notifier. Every registered waiter of the
// repository is poked; each waiter re-evaluates its own matcher.
func (s *Service) Notify(project, name string, rev revision.Revision) {
	s.metrics.RecordNotified(project, name, rev)
	s.mu.Lock()
	set := s.waiters[repoKey(project, name)]
	for w := range set {
		select {
		case w.ch <- rev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) register(key string) *waiter {
	w := &waiter{ch: make(chan revision.Revision, 1)}
	s.mu.Lock()
	set, ok := s.waiters[key]
	if !ok {
		set = make(map[*waiter]struct{})
		s.waiters[key] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()
	return w
}

func (s *Service) unregister(key string, w *waiter) {
	s.mu.Lock()
	if set, ok := s.waiters[key]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(s.waiters, key)
		}
	}
	s.mu.Unlock()
}

// Pending reports how many watchers currently wait on the repository.
func (s *Service) Pending(project, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters[repoKey(project, name)])
}

// WatchRepo blocks until a commit newer than lastKnown touches a path
// matching pattern, then returns the repository head at that moment. A
// timeout is not an error: the zero revision is the nothing-changed
// sentinel.
func (s *Service) WatchRepo(ctx context.Context, r *repo.Repository, lastKnown revision.Revision,
	pattern *pathpattern.Pattern, timeout time.Duration) (revision.Revision, error) {
	last, err := r.Normalize(lastKnown)
	if err != nil {
		return 0, err
	}
	match := func() (revision.Revision, bool, error) {
		head := r.Head()
		if head <= last {
			return 0, false, nil
		}
		paths, err := r.ChangedPaths(last, head)
		if err != nil {
			return 0, false, err
		}
		if pattern.MatchesAny(paths) {
			return head, true, nil
		}
		// Nothing relevant in (last..head]; fast-forward so the next
		// evaluation scans only newer commits.
		last = head
		return 0, false, nil
	}
	return s.await(ctx, r, timeout, match)
}

// WatchFile blocks until the projected value of query differs from its
// value at lastKnown, then returns the new entry. Timeout returns
// (nil, nil).
func (s *Service) WatchFile(ctx context.Context, r *repo.Repository, lastKnown revision.Revision,
	query *dogma.Query, timeout time.Duration) (*dogma.Entry, error) {
	last, err := r.Normalize(lastKnown)
	if err != nil {
		return nil, err
	}
	baseline, err := r.Get(last, query)
	if err != nil {
		return nil, err
	}
	var baseValue any
	if baseline != nil {
		baseValue = baseline.Content
	}

	var found *dogma.Entry
	match := func() (revision.Revision, bool, error) {
		head := r.Head()
		if head <= last {
			return 0, false, nil
		}
		entry, err := r.Get(head, query)
		if err != nil {
			return 0, false, err
		}
		var value any
		if entry != nil {
			value = entry.Content
		}
		// A commit that leaves the projected value untouched must not
		// wake the client.
		if reflect.DeepEqual(baseValue, value) {
			last = head
			return 0, false, nil
		}
		if entry == nil {
			// The file disappeared; surface it as not found.
			return 0, false, plumbing.NewErrEntryNotFound(query.Path)
		}
		found = entry
		return head, true, nil
	}
	if _, err := s.await(ctx, r, timeout, match); err != nil {
		return nil, err
	}
	return found, nil
}

// await runs the matcher loop: evaluate immediately, then once per commit
// notification until it fires, the deadline passes or ctx is cancelled.
func (s *Service) await(ctx context.Context, r *repo.Repository, timeout time.Duration,
	match func() (revision.Revision, bool, error)) (revision.Revision, error) {
	if rev, ok, err := match(); err != nil || ok {
		if err == nil && ok {
			s.metrics.RecordDelivered(r.Project(), r.Name(), rev)
		}
		return rev, err
	}

	key := repoKey(r.Project(), r.Name())
	w := s.register(key)
	defer s.unregister(key, w)

	// Re-check after registration: a commit may have landed in between.
	if rev, ok, err := match(); err != nil || ok {
		if err == nil && ok {
			s.metrics.RecordDelivered(r.Project(), r.Name(), rev)
		}
		return rev, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
			return 0, nil
		case <-w.ch:
			rev, ok, err := match()
			if err != nil {
				return 0, err
			}
			if ok {
				s.metrics.RecordDelivered(r.Project(), r.Name(), rev)
				return rev, nil
			}
		}
	}
}

var _ repo.Notifier = (*Service)(nil)
