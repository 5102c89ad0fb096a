// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// StartPurgeWorker launches the background worker that physically deletes
// marked projects and repositories once their purge delay elapsed.
func (m *Manager) StartPurgeWorker(interval time.Duration) {
	m.startPurge.Do(func() {
		go m.purgeLoop(interval)
	})
}

func (m *Manager) StopPurgeWorker() {
	select {
	case <-m.stopPurge:
	default:
		close(m.stopPurge)
	}
}

func (m *Manager) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopPurge:
			return
		case <-ticker.C:
			m.purgeOnce(time.Now())
		}
	}
}

// purgeOnce runs a single purge sweep; split out for tests.
func (m *Manager) purgeOnce(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.projects {
		if p.meta.PurgeAt != nil && now.Sub(*p.meta.PurgeAt) >= m.purgeDelay {
			if err := os.RemoveAll(p.dir); err != nil {
				logrus.Errorf("failed to purge project %s: %v", name, err)
				continue
			}
			delete(m.projects, name)
			logrus.Infof("purged project %s", name)
			continue
		}
		p.mu.Lock()
		for rname, rmeta := range p.rmetas {
			if rmeta.PurgeAt == nil || now.Sub(*rmeta.PurgeAt) < m.purgeDelay {
				continue
			}
			if err := os.RemoveAll(filepath.Join(p.dir, rname)); err != nil {
				logrus.Errorf("failed to purge repository %s/%s: %v", name, rname, err)
				continue
			}
			delete(p.repos, rname)
			delete(p.rmetas, rname)
			logrus.Infof("purged repository %s/%s", name, rname)
		}
		p.mu.Unlock()
	}
}
