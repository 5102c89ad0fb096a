// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the size of the shared repository worker pool.
const DefaultWorkers = 16

// Pool runs mutating repository operations. Tasks for the same key are
// strictly serialized through a per-key queue; the semaphore bounds how many
// keys make progress at once, so a slow commit on one repository never
// blocks or reorders another repository's commits.
type Pool struct {
	sem    *semaphore.Weighted
	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool
}

type keyQueue struct {
	tasks []func()
	busy  bool
}

func NewPool(workers int64) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		sem:    semaphore.NewWeighted(workers),
		queues: make(map[string]*keyQueue),
	}
}

// Submit enqueues a task for the given key and returns immediately.
func (p *Pool) Submit(key string, task func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	q, ok := p.queues[key]
	if !ok {
		q = &keyQueue{}
		p.queues[key] = q
	}
	q.tasks = append(q.tasks, task)
	if q.busy {
		p.mu.Unlock()
		return
	}
	q.busy = true
	p.mu.Unlock()
	go p.drain(key, q)
}

func (p *Pool) drain(key string, q *keyQueue) {
	for {
		p.mu.Lock()
		if len(q.tasks) == 0 {
			q.busy = false
			delete(p.queues, key)
			p.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		p.mu.Unlock()

		_ = p.sem.Acquire(context.Background(), 1)
		task()
		p.sem.Release(1)
	}
}

// Do runs fn on the key's worker slot and waits for its result.
func (p *Pool) Do(ctx context.Context, key string, fn func() error) error {
	done := make(chan error, 1)
	p.Submit(key, func() {
		done <- fn()
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new tasks. Queued tasks still run.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
