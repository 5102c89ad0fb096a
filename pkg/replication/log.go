// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package replication keeps a cluster of replicas converged by routing every
// mutation through a shared ZooKeeper command log.
package replication

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/pkg/command"
	"github.com/go-zookeeper/zk"
)

const (
	logNode      = "log"
	leaderNode   = "leader"
	entryPrefix  = "entry-"
	memberPrefix = "member-"
)

// Conn is the subset of *zk.Conn the replication layer uses; a fake stands
// in for it in tests.
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Exists(path string) (bool, *zk.Stat, error)
	Delete(path string, version int32) error
	Close()
}

// Entry is one replicated command with its position in the log.
type Entry struct {
	Index   int64
	Command command.Command
}

// Log is an append-only command log built from sequential znodes.
type Log struct {
	conn   Conn
	prefix string
}

func NewLog(conn Conn, prefix string) (*Log, error) {
	l := &Log{conn: conn, prefix: strings.TrimRight(prefix, "/")}
	for _, p := range []string{l.prefix, l.logDir(), l.leaderDir()} {
		if _, err := conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			return nil, unavailable(err)
		}
	}
	return l, nil
}

func (l *Log) logDir() string    { return l.prefix + "/" + logNode }
func (l *Log) leaderDir() string { return l.prefix + "/" + leaderNode }

// Append serializes the command and adds it as the next log entry.
func (l *Log) Append(cmd command.Command) (int64, error) {
	data, err := command.Marshal(cmd)
	if err != nil {
		return 0, err
	}
	path, err := l.conn.Create(l.logDir()+"/"+entryPrefix, data, zk.FlagSequence, zk.WorldACL(zk.PermAll))
	if err != nil {
		return 0, unavailable(err)
	}
	return parseIndex(path)
}

// After returns all entries with an index greater than after, in order.
// Entries that fail to decode are skipped; they can only come from a newer,
// incompatible release.
func (l *Log) After(after int64) ([]Entry, error) {
	children, _, err := l.conn.Children(l.logDir())
	if err != nil {
		return nil, unavailable(err)
	}
	indices := make([]int64, 0, len(children))
	for _, c := range children {
		idx, err := parseIndex(c)
		if err != nil {
			continue
		}
		if idx > after {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	entries := make([]Entry, 0, len(indices))
	for _, idx := range indices {
		data, _, err := l.conn.Get(l.entryPath(idx))
		if err != nil {
			if err == zk.ErrNoNode {
				// Purged concurrently.
				continue
			}
			return nil, unavailable(err)
		}
		cmd, err := command.Unmarshal(data)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Index: idx, Command: cmd})
	}
	return entries, nil
}

// Watch returns the current children of the log directory plus a channel
// that fires on the next change.
func (l *Log) Watch() (<-chan zk.Event, error) {
	_, _, ch, err := l.conn.ChildrenW(l.logDir())
	if err != nil {
		return nil, unavailable(err)
	}
	return ch, nil
}

// Purge removes old log entries. An entry is deleted only when it falls
// outside the newest keepCount entries and is older than minAge, so a slow
// replica has both a count and a time cushion to catch up.
func (l *Log) Purge(keepCount int, minAge time.Duration, now time.Time) (int, error) {
	children, _, err := l.conn.Children(l.logDir())
	if err != nil {
		return 0, unavailable(err)
	}
	indices := make([]int64, 0, len(children))
	for _, c := range children {
		if idx, err := parseIndex(c); err == nil {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) <= keepCount {
		return 0, nil
	}

	removed := 0
	for _, idx := range indices[:len(indices)-keepCount] {
		path := l.entryPath(idx)
		_, stat, err := l.conn.Get(path)
		if err != nil {
			if err == zk.ErrNoNode {
				continue
			}
			return removed, unavailable(err)
		}
		mtime := time.UnixMilli(stat.Mtime)
		if now.Sub(mtime) < minAge {
			break
		}
		if err := l.conn.Delete(path, -1); err != nil && err != zk.ErrNoNode {
			return removed, unavailable(err)
		}
		removed++
	}
	return removed, nil
}

func (l *Log) entryPath(idx int64) string {
	return fmt.Sprintf("%s/%s%010d", l.logDir(), entryPrefix, idx)
}

// parseIndex extracts the sequence number from an entry znode name or path.
func parseIndex(path string) (int64, error) {
	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	seq, ok := strings.CutPrefix(name, entryPrefix)
	if !ok {
		return 0, fmt.Errorf("not a log entry: %q", path)
	}
	return strconv.ParseInt(seq, 10, 64)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", plumbing.ErrReplicationUnavailable, err)
}
