// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antgroup/dogma/pkg/command"
	"github.com/sirupsen/logrus"
)

// DefaultPurgeInterval is how often the leader prunes the command log.
const DefaultPurgeInterval = 5 * time.Minute

// Retention bounds the command log: entries past KeepCount are deleted once
// older than MinAge.
type Retention struct {
	KeepCount int
	MinAge    time.Duration
}

// Executor replicates commands through the shared log before applying them
// to the local delegate, and replays commands other replicas appended. Reads
// never touch ZooKeeper.
type Executor struct {
	delegate  *command.StandaloneExecutor
	log       *Log
	election  *Election
	retention Retention

	state   atomic.Int32 // command.State
	leading atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// applyMu serializes every local application of log entries so replay
	// and direct execution cannot interleave.
	applyMu     sync.Mutex
	lastApplied int64
	snapshot    SnapshotTransfer
}

// SetSnapshotTransfer installs the resync path taken when the entries this
// replica still needs were purged from the log. Must be called before
// Start.
func (e *Executor) SetSnapshotTransfer(st SnapshotTransfer) { e.snapshot = st }

func NewExecutor(delegate *command.StandaloneExecutor, log *Log, election *Election, retention Retention) *Executor {
	if retention.KeepCount <= 0 {
		retention.KeepCount = 1024
	}
	if retention.MinAge <= 0 {
		retention.MinAge = time.Hour
	}
	return &Executor{
		delegate:    delegate,
		log:         log,
		election:    election,
		retention:   retention,
		lastApplied: -1,
	}
}

func (e *Executor) State() command.State { return command.State(e.state.Load()) }
func (e *Executor) IsWritable() bool     { return e.delegate.IsWritable() }

func (e *Executor) Start(onTakeLeadership, onReleaseLeadership func()) error {
	if !e.state.CompareAndSwap(int32(command.StateNew), int32(command.StateStarted)) {
		return fmt.Errorf("cannot start executor in state %s", e.State())
	}
	if err := e.delegate.Start(nil, nil); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(3)
	go e.runElection(ctx, onTakeLeadership, onReleaseLeadership)
	go e.replayLoop(ctx)
	go e.purgeLoop(ctx)
	return nil
}

func (e *Executor) Stop() error {
	if !e.state.CompareAndSwap(int32(command.StateStarted), int32(command.StateStopping)) {
		e.state.Store(int32(command.StateStopped))
		return nil
	}
	e.cancel()
	e.wg.Wait()
	e.state.Store(int32(command.StateStopped))
	return e.delegate.Stop()
}

// Execute appends the command to the shared log, applies every entry that
// precedes it, then applies the command itself and returns its result.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) (any, error) {
	if st := e.State(); st != command.StateStarted {
		return nil, fmt.Errorf("executor is %s, cannot execute %s", st, cmd.Type())
	}
	// Transform commands carry a function that cannot travel the log; they
	// are materialized into the concrete push before being appended.
	cmd, err := e.delegate.Prepare(cmd)
	if err != nil {
		return nil, err
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	index, err := e.log.Append(cmd)
	if err != nil {
		return nil, err
	}
	if err := e.catchUpLocked(ctx, index-1); err != nil {
		return nil, err
	}
	result, err := e.delegate.Execute(ctx, cmd)
	e.lastApplied = index
	return result, err
}

// catchUpLocked applies log entries in (lastApplied..upTo]. Replayed
// commands may fail legitimately, e.g. when the log is replayed over storage
// that already contains their effect; such failures are logged and skipped.
func (e *Executor) catchUpLocked(ctx context.Context, upTo int64) error {
	entries, err := e.log.After(e.lastApplied)
	if err != nil {
		return err
	}
	if len(entries) != 0 && entries[0].Index > e.lastApplied+1 {
		// The entries between lastApplied and the oldest retained one were
		// purged; replaying the remainder would skip mutations.
		if e.snapshot == nil {
			return fmt.Errorf("log entries (%d..%d) purged and no snapshot transfer configured",
				e.lastApplied+1, entries[0].Index)
		}
		logrus.Infof("resyncing from snapshot: log starts at %d, last applied %d", entries[0].Index, e.lastApplied)
		if err := e.snapshot.Resync(ctx); err != nil {
			return err
		}
		e.lastApplied = entries[0].Index - 1
	}
	for _, entry := range entries {
		if upTo >= 0 && entry.Index > upTo {
			break
		}
		if _, err := e.delegate.Execute(ctx, entry.Command); err != nil {
			logrus.Warnf("replay of %s at index %d failed: %v", entry.Command.Type(), entry.Index, err)
		}
		e.lastApplied = entry.Index
	}
	return nil
}

func (e *Executor) replayLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		events, err := e.log.Watch()
		if err != nil {
			logrus.Warnf("log watch failed, retrying: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		e.applyMu.Lock()
		if err := e.catchUpLocked(ctx, -1); err != nil {
			logrus.Warnf("log replay failed: %v", err)
		}
		e.applyMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-events:
		}
	}
}

func (e *Executor) runElection(ctx context.Context, onTake, onRelease func()) {
	defer e.wg.Done()
	for {
		err := e.election.Run(ctx, func() {
			e.leading.Store(true)
			if onTake != nil {
				onTake()
			}
		}, func() {
			e.leading.Store(false)
			if onRelease != nil {
				onRelease()
			}
		})
		if errors.Is(err, context.Canceled) {
			return
		}
		logrus.Warnf("leader election interrupted, rejoining: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// purgeLoop prunes the log, but only while this node leads, so the log is
// pruned in exactly one place.
func (e *Executor) purgeLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(DefaultPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.leading.Load() {
				continue
			}
			removed, err := e.log.Purge(e.retention.KeepCount, e.retention.MinAge, time.Now())
			if err != nil {
				logrus.Warnf("log purge failed: %v", err)
			} else if removed > 0 {
				logrus.Infof("purged %d replicated log entries", removed)
			}
		}
	}
}

var _ command.Executor = (*Executor)(nil)
