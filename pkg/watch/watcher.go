// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antgroup/dogma/modules/pathpattern"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/antgroup/dogma/pkg/storage/repo"
	"github.com/sirupsen/logrus"
)

// watcher states
const (
	watcherInitial int32 = iota
	watcherStarted
	watcherStopped
)

const watchTimeout = time.Minute

// Latest holds the newest known value and the revision it came from.
type Latest struct {
	Revision revision.Revision
	Value    any
	Err      error
}

// Result is one round of the underlying watch operation. A zero Revision
// means the round timed out with nothing new.
type Result struct {
	Revision revision.Revision
	Value    any
	Err      error
}

// Watcher keeps the latest value of a watched file or repository current in
// the background and fans updates out to registered listeners.
type Watcher struct {
	state             atomic.Int32
	initialValueCh    chan *Latest // buffer 1; values are put back after reads
	initialValueChSet atomic.Bool
	latest            atomic.Value // Latest
	ctx               context.Context
	cancel            context.CancelFunc
	listenersMu       sync.Mutex
	listeners         []func(rev revision.Revision, value any)

	doWatch func(ctx context.Context, lastKnown revision.Revision) *Result

	name string
}

// NewWatcher builds an unstarted watcher around one watch round function.
// name is used only for logging.
func NewWatcher(name string, doWatch func(ctx context.Context, lastKnown revision.Revision) *Result) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		initialValueCh: make(chan *Latest, 1),
		ctx:            ctx,
		cancel:         cancel,
		doWatch:        doWatch,
		name:           name,
	}
}

// FileWatcher watches the projected value of one file.
func (s *Service) FileWatcher(r *repo.Repository, query *dogma.Query) *Watcher {
	name := fmt.Sprintf("%s/%s%s", r.Project(), r.Name(), query.Path)
	w := NewWatcher(name, func(ctx context.Context, lastKnown revision.Revision) *Result {
		entry, err := s.WatchFile(ctx, r, lastKnown, query, watchTimeout)
		if err != nil {
			return &Result{Err: err}
		}
		if entry == nil {
			return &Result{}
		}
		return &Result{Revision: entry.Revision, Value: entry.Content}
	})
	w.Start()
	return w
}

// RepoWatcher watches for any commit touching the path pattern; its value
// is the matched head revision.
func (s *Service) RepoWatcher(r *repo.Repository, pattern *pathpattern.Pattern) *Watcher {
	name := fmt.Sprintf("%s/%s", r.Project(), r.Name())
	w := NewWatcher(name, func(ctx context.Context, lastKnown revision.Revision) *Result {
		rev, err := s.WatchRepo(ctx, r, lastKnown, pattern, watchTimeout)
		if err != nil {
			return &Result{Err: err}
		}
		if rev == 0 {
			return &Result{}
		}
		return &Result{Revision: rev, Value: rev}
	})
	w.Start()
	return w
}

// Start launches the background watch loop. Calling it again is a no-op.
func (w *Watcher) Start() {
	if w.state.CompareAndSwap(watcherInitial, watcherStarted) {
		w.scheduleWatch(0)
	}
}

// AwaitInitialValue blocks until the first value is available.
func (w *Watcher) AwaitInitialValue() Latest {
	latest := <-w.initialValueCh
	// Put it back so subsequent callers get the value too.
	w.initialValueCh <- latest
	return *latest
}

// AwaitInitialValueWith is AwaitInitialValue with a deadline.
func (w *Watcher) AwaitInitialValueWith(timeout time.Duration) Latest {
	select {
	case latest := <-w.initialValueCh:
		w.initialValueCh <- latest
		return *latest
	case <-time.After(timeout):
		return Latest{Err: fmt.Errorf("initial value not available within %v", timeout)}
	}
}

var errLatestNotSet = errors.New("latest value is not set yet")
var errWatcherClosed = errors.New("watcher is closed")

// Latest returns the newest known value.
func (w *Watcher) Latest() Latest {
	if latest, ok := w.latest.Load().(Latest); ok {
		return latest
	}
	return Latest{Err: errLatestNotSet}
}

// LatestValue returns the newest known value or an error when none arrived
// yet.
func (w *Watcher) LatestValue() (any, error) {
	latest := w.Latest()
	if latest.Err != nil {
		return nil, latest.Err
	}
	return latest.Value, nil
}

// LatestValueOr returns the newest known value, falling back to def.
func (w *Watcher) LatestValueOr(def any) any {
	latest := w.Latest()
	if latest.Err != nil {
		return def
	}
	return latest.Value
}

// Watch registers a listener invoked on every value change. When a value is
// already known the listener immediately receives it.
func (w *Watcher) Watch(listener func(rev revision.Revision, value any)) error {
	if listener == nil {
		return errors.New("listener is nil")
	}
	if w.isStopped() {
		return errWatcherClosed
	}
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, listener)

	if latest := w.Latest(); latest.Err == nil {
		go listener(latest.Revision, latest.Value)
	}
	return nil
}

// Close stops the watch loop. Listeners receive nothing afterwards.
func (w *Watcher) Close() {
	w.state.Store(watcherStopped)
	if w.initialValueChSet.CompareAndSwap(false, true) {
		// Unblock AwaitInitialValue callers that never saw a value.
		w.initialValueCh <- &Latest{Err: errWatcherClosed}
	}
	w.cancel()
}

func (w *Watcher) isStopped() bool { return w.state.Load() == watcherStopped }

func (w *Watcher) scheduleWatch(numAttemptsSoFar int) {
	if w.isStopped() {
		return
	}
	var delay time.Duration
	if numAttemptsSoFar == 0 {
		if w.Latest().Err == nil {
			delay = delayOnSuccess
		}
	} else {
		delay = nextDelay(numAttemptsSoFar)
	}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-w.ctx.Done():
		case <-timer.C:
			w.watchOnce(numAttemptsSoFar)
		}
	}()
}

func (w *Watcher) watchOnce(numAttemptsSoFar int) {
	if w.isStopped() {
		return
	}
	lastKnown := w.Latest().Revision
	if lastKnown == 0 {
		lastKnown = revision.Init
	}

	result := w.doWatch(w.ctx, lastKnown)
	switch {
	case result.Err != nil:
		if errors.Is(result.Err, context.Canceled) {
			return
		}
		logrus.Debugf("watcher %s: watch attempt failed: %v", w.name, result.Err)
		w.scheduleWatch(numAttemptsSoFar + 1)
	case result.Revision == 0:
		// Timed out with nothing new.
		w.scheduleWatch(0)
	default:
		newLatest := &Latest{Revision: result.Revision, Value: result.Value}
		if w.initialValueChSet.CompareAndSwap(false, true) {
			w.initialValueCh <- newLatest
		}
		w.latest.Store(*newLatest)
		logrus.Debugf("watcher %s noticed an update: rev=%d", w.name, result.Revision)
		w.notifyListeners()
		w.scheduleWatch(0)
	}
}

func (w *Watcher) notifyListeners() {
	if w.isStopped() {
		return
	}
	latest := w.Latest()
	w.listenersMu.Lock()
	snapshot := make([]func(revision.Revision, any), len(w.listeners))
	copy(snapshot, w.listeners)
	w.listenersMu.Unlock()

	go func() {
		for _, listener := range snapshot {
			notifyOne(w.name, listener, latest)
		}
	}()
}

// notifyOne isolates listener panics so one broken listener cannot take the
// notification loop down.
func notifyOne(name string, listener func(revision.Revision, any), latest Latest) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("watcher %s: listener panicked: %v", name, r)
		}
	}()
	listener(latest.Revision, latest.Value)
}

// NewTransformingWatcher derives a watcher whose value is transform applied
// to the parent's value. Updates that transform to an equal value are
// suppressed.
func NewTransformingWatcher(parent *Watcher, transform func(any) any) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	child := &Watcher{
		initialValueCh: make(chan *Latest, 1),
		ctx:            ctx,
		cancel:         cancel,
		name:           parent.name + "/transformed",
	}
	child.state.Store(watcherStarted)
	_ = parent.Watch(func(rev revision.Revision, value any) {
		if child.isStopped() {
			return
		}
		transformed := transform(value)
		if prev := child.Latest(); prev.Err == nil && reflect.DeepEqual(prev.Value, transformed) {
			return
		}
		newLatest := &Latest{Revision: rev, Value: transformed}
		if child.initialValueChSet.CompareAndSwap(false, true) {
			child.initialValueCh <- newLatest
		}
		child.latest.Store(*newLatest)
		child.notifyListeners()
	})
	return child
}
