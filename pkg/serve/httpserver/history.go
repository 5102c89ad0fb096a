// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/gorilla/mux"
)

func (s *Server) NormalizeRevision(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	rev, err := parseRevision(mux.Vars(r)["revision"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	abs, err := rr.Normalize(rev)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, &watchResult{Revision: abs})
}

// revisionRange resolves the from/to query parameters against the
// repository head, with the given defaults for absent parameters.
func (s *Server) revisionRange(r *http.Request, defFrom, defTo revision.Revision) (from, to revision.Revision, err error) {
	from, to = defFrom, defTo
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = revision.Parse(v); err != nil {
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = revision.Parse(v); err != nil {
			return
		}
	}
	return
}

func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	pattern, err := patternOf(mux.Vars(r)["pattern"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	from, to, err := s.revisionRange(r, revision.Head, revision.Init)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	maxCommits := 0
	if v := r.URL.Query().Get("maxCommits"); v != "" {
		if maxCommits, err = strconv.Atoi(v); err != nil {
			renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "maxCommits must be an integer")
			return
		}
	}
	fromAbs, err := rr.Normalize(from)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	toAbs, err := rr.Normalize(to)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	args := fmt.Sprintf("%s:%s:%s:%d", fromAbs, toAbs, pattern, maxCommits)
	v, err := s.cached(rr, "history", args, func() (any, error) {
		return rr.History(fromAbs, toAbs, pattern, maxCommits)
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, v)
}

func (s *Server) Compare(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	from, to, err := s.revisionRange(r, revision.Init, revision.Head)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	fromAbs, err := rr.Normalize(from)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	toAbs, err := rr.Normalize(to)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	// A path parameter with a query projection compares one file; the
	// route pattern compares whole trees.
	if path := r.URL.Query().Get("path"); path != "" {
		query := queryOf(path, r.URL.Query())
		change, err := rr.DiffFile(fromAbs, toAbs, query)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		if change == nil {
			JsonEncode(w, []dogma.Change{})
			return
		}
		JsonEncode(w, change)
		return
	}
	pattern, err := patternOf(mux.Vars(r)["pattern"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	args := fmt.Sprintf("%s:%s:%s", fromAbs, toAbs, pattern)
	v, err := s.cached(rr, "compare", args, func() (any, error) {
		changes, err := rr.Diff(fromAbs, toAbs, pattern)
		if err != nil {
			return nil, err
		}
		if changes == nil {
			changes = []dogma.Change{}
		}
		return changes, nil
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, v)
}

// mergedEntry is the response of a merge query: the merged document plus
// the revision it was evaluated at.
type mergedEntry struct {
	Revision revision.Revision `json:"revision"`
	Type     dogma.EntryType   `json:"type"`
	Content  any               `json:"content"`
	Paths    []string          `json:"paths"`
}

func (s *Server) MergeQuery(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	values := r.URL.Query()
	rev, err := parseRevision(values.Get("revision"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	abs, err := rr.Normalize(rev)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	q := &dogma.MergeQuery{Expressions: values["expression"]}
	for _, p := range values["path"] {
		q.Sources = append(q.Sources, dogma.MergeSource{Path: p})
	}
	for _, p := range values["optionalPath"] {
		q.Sources = append(q.Sources, dogma.MergeSource{Path: p, Optional: true})
	}
	if err := q.Validate(); err != nil {
		s.renderError(w, r, err)
		return
	}
	args := fmt.Sprintf("%s:%s", abs, r.URL.RawQuery)
	v, err := s.cached(rr, "merge", args, func() (any, error) {
		entry, err := rr.MergeQuery(abs, q)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(q.Sources))
		for _, src := range q.Sources {
			paths = append(paths, src.Path)
		}
		return &mergedEntry{Revision: abs, Type: entry.Type, Content: entry.Content, Paths: paths}, nil
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, v)
}
