// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/antgroup/dogma/pkg/command"
	"github.com/gorilla/mux"
)

type createRequest struct {
	Name string `json:"name"`
}

// patchOp is the JSON-patch shaped body of PATCH requests; the only accepted
// operation flips /status back to active (unremove).
type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

func isUnremovePatch(ops []patchOp) bool {
	return len(ops) == 1 && ops[0].Op == "replace" && ops[0].Path == "/status" && ops[0].Value == "active"
}

func (s *Server) ListProjects(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") == "removed" {
		JsonEncode(w, s.projects.ListRemoved())
		return
	}
	JsonEncode(w, s.projects.List(false))
}

func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}
	_, err := s.executor.Execute(r.Context(), &command.CreateProjectCommand{
		Timestamp: time.Now(),
		Author:    requestAuthor(r),
		Project:   req.Name,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, &createRequest{Name: req.Name})
}

func (s *Server) RemoveProject(w http.ResponseWriter, r *http.Request) {
	_, err := s.executor.Execute(r.Context(), &command.RemoveProjectCommand{
		Timestamp: time.Now(),
		Author:    requestAuthor(r),
		Project:   mux.Vars(r)["project"],
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PatchProject(w http.ResponseWriter, r *http.Request) {
	var ops []patchOp
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil || !isUnremovePatch(ops) {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "unsupported patch document")
		return
	}
	_, err := s.executor.Execute(r.Context(), &command.UnremoveProjectCommand{
		Timestamp: time.Now(),
		Author:    requestAuthor(r),
		Project:   mux.Vars(r)["project"],
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PurgeProject(w http.ResponseWriter, r *http.Request) {
	_, err := s.executor.Execute(r.Context(), &command.PurgeProjectCommand{
		Timestamp: time.Now(),
		Author:    requestAuthor(r),
		Project:   mux.Vars(r)["project"],
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListRepos(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(mux.Vars(r)["project"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var names []string
	if r.URL.Query().Get("status") == "removed" {
		names = p.RemovedRepos()
	} else {
		names = p.Repos()
	}
	sort.Strings(names)
	JsonEncode(w, names)
}

func (s *Server) CreateRepo(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}
	_, err := s.executor.Execute(r.Context(), &command.CreateRepositoryCommand{
		Timestamp:  time.Now(),
		Author:     requestAuthor(r),
		Project:    mux.Vars(r)["project"],
		Repository: req.Name,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, &createRequest{Name: req.Name})
}

func (s *Server) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, err := s.executor.Execute(r.Context(), &command.RemoveRepositoryCommand{
		Timestamp:  time.Now(),
		Author:     requestAuthor(r),
		Project:    vars["project"],
		Repository: vars["repo"],
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PatchRepo(w http.ResponseWriter, r *http.Request) {
	var ops []patchOp
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil || !isUnremovePatch(ops) {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "unsupported patch document")
		return
	}
	vars := mux.Vars(r)
	_, err := s.executor.Execute(r.Context(), &command.UnremoveRepositoryCommand{
		Timestamp:  time.Now(),
		Author:     requestAuthor(r),
		Project:    vars["project"],
		Repository: vars["repo"],
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PurgeRepo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, err := s.executor.Execute(r.Context(), &command.PurgeRepositoryCommand{
		Timestamp:  time.Now(),
		Author:     requestAuthor(r),
		Project:    vars["project"],
		Repository: vars["repo"],
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
