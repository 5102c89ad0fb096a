// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"sync"
)

// State tracks the executor lifecycle. Commands are accepted only while
// started.
type State int32

const (
	StateNew State = iota
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateStarted:
		return "STARTED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Executor runs commands. The standalone executor applies them directly;
// the replicated executor first appends them to the shared log.
//
// Execute returns a per-command result: *PushResult for pushes, nil for
// everything else.
type Executor interface {
	// Start transitions NEW -> STARTED. onTakeLeadership and
	// onReleaseLeadership run whenever this node gains or loses the right
	// to perform leader-only work; either may be nil.
	Start(onTakeLeadership, onReleaseLeadership func()) error
	// Stop transitions to STOPPED, releasing leadership first.
	Stop() error
	Execute(ctx context.Context, cmd Command) (any, error)
	State() State
	// IsWritable reports whether mutations other than force pushes and
	// status updates are currently accepted.
	IsWritable() bool
}

// lifecycle is the shared NEW -> STARTED -> STOPPING -> STOPPED machine.
type lifecycle struct {
	mu        sync.Mutex
	state     State
	onTake    func()
	onRelease func()
}

func (l *lifecycle) start(onTake, onRelease func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNew {
		return fmt.Errorf("cannot start executor in state %s", l.state)
	}
	l.onTake = onTake
	l.onRelease = onRelease
	l.state = StateStarted
	return nil
}

// beginStop returns true exactly once for the STARTED -> STOPPING edge.
func (l *lifecycle) beginStop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStarted {
		if l.state != StateStopped {
			l.state = StateStopped
		}
		return false
	}
	l.state = StateStopping
	return true
}

func (l *lifecycle) finishStop() {
	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) takeLeadership() {
	l.mu.Lock()
	fn := l.onTake
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *lifecycle) releaseLeadership() {
	l.mu.Lock()
	fn := l.onRelease
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}
