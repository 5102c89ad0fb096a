// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/antgroup/dogma/pkg/command"
	"github.com/antgroup/dogma/pkg/serve"
	"github.com/antgroup/dogma/pkg/version"
	"github.com/antgroup/dogma/pkg/watch"
)

type statusResponse struct {
	Writable    bool                `json:"writable"`
	Replicating bool                `json:"replicating"`
	Version     string              `json:"version,omitempty"`
	System      *version.SystemInfo `json:"system,omitempty"`
	Watch       []watch.Progress    `json:"watch,omitempty"`
}

func (s *Server) replicating() bool {
	return s.Replication != nil && s.Replication.Method == serve.ReplicationZooKeeper
}

func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	info, _ := version.Uname()
	JsonEncode(w, &statusResponse{
		Writable:    s.executor.IsWritable(),
		Replicating: s.replicating(),
		Version:     version.GetVersion(),
		System:      info,
		Watch:       s.watch.Metrics().Snapshot(),
	})
}

type statusUpdate struct {
	Writable bool `json:"writable"`
}

// UpdateStatus flips the cluster-wide writability flag. The command is
// force-pushed past the read-only gate, so an operator can always restore
// writes.
func (s *Server) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}
	if _, err := s.executor.Execute(r.Context(), &command.ForcePushCommand{Wrapped: &command.UpdateServerStatusCommand{
		Timestamp: time.Now(),
		Writable:  req.Writable,
	}}); err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, &statusResponse{Writable: req.Writable, Replicating: s.replicating()})
}
