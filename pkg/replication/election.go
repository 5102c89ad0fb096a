// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/sirupsen/logrus"
)

// Election elects a single leader among the replicas using ephemeral
// sequential znodes: the member with the lowest sequence leads, and its
// znode vanishing (crash or disconnect) promotes the next one.
type Election struct {
	conn   Conn
	dir    string
	nodeID string
}

func NewElection(conn Conn, prefix, nodeID string) *Election {
	return &Election{
		conn:   conn,
		dir:    strings.TrimRight(prefix, "/") + "/" + leaderNode,
		nodeID: nodeID,
	}
}

// Run joins the election and blocks until ctx is cancelled. onElected fires
// when this node becomes the leader, onResigned when leadership is lost or
// the election stops while leading.
func (e *Election) Run(ctx context.Context, onElected, onResigned func()) error {
	me, err := e.conn.Create(e.dir+"/"+memberPrefix, []byte(e.nodeID),
		zk.FlagEphemeral|zk.FlagSequence, zk.WorldACL(zk.PermAll))
	if err != nil {
		return unavailable(err)
	}
	myName := me[strings.LastIndexByte(me, '/')+1:]
	defer func() {
		if err := e.conn.Delete(me, -1); err != nil && err != zk.ErrNoNode {
			logrus.Warnf("failed to leave election: %v", err)
		}
	}()

	leading := false
	defer func() {
		if leading && onResigned != nil {
			onResigned()
		}
	}()

	for {
		members, _, events, err := e.conn.ChildrenW(e.dir)
		if err != nil {
			return unavailable(err)
		}
		sort.Strings(members)
		isLeader := len(members) > 0 && members[0] == myName
		if isLeader && !leading {
			leading = true
			logrus.Infof("node %s took the leadership", e.nodeID)
			if onElected != nil {
				onElected()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
		}
	}
}
