// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/dogma/modules/pathpattern"
	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/command"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/antgroup/dogma/pkg/storage/repo"
	"github.com/gorilla/mux"
)

// parseRevision resolves a revision string from a route variable or query
// parameter, defaulting to head when absent.
func parseRevision(s string) (revision.Revision, error) {
	if s == "" {
		return revision.Head, nil
	}
	return revision.Parse(strings.TrimPrefix(s, "/"))
}

// queryOf builds the read projection from the request parameters. A bare
// path is an identity read; queryType=JSON_PATH applies the expression
// parameters in order.
func queryOf(path string, values url.Values) *dogma.Query {
	switch values.Get("queryType") {
	case "JSON_PATH":
		return dogma.NewJSONPathQuery(path, values["expression"]...)
	case "IDENTITY_TEXT":
		return &dogma.Query{Path: path, Type: dogma.AsText}
	}
	return dogma.NewQuery(path)
}

// patternOf compiles the trailing route pattern, treating an empty or root
// pattern as match-everything.
func patternOf(raw string) (*pathpattern.Pattern, error) {
	if raw == "" || raw == "/" {
		raw = "/**"
	}
	return pathpattern.Compile(raw)
}

// cached memoizes a repository read under the repository's cache
// generation. args must address normalized revisions only.
func (s *Server) cached(rr *repo.Repository, op, args string, load func() (any, error)) (any, error) {
	v, _, err := s.cache.Get(rr.Project(), rr.Name(), op, args, func() (any, int64, error) {
		v, err := load()
		if err != nil {
			return nil, 0, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, 0, err
		}
		return v, int64(len(raw)), nil
	})
	return v, err
}

func (s *Server) ListTree(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	rev, err := parseRevision(vars["revision"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	pattern, err := patternOf(vars["pattern"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	abs, err := rr.Normalize(rev)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	v, err := s.cached(rr, "list", abs.String()+":"+pattern.String(), func() (any, error) {
		return rr.List(abs, pattern)
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, v)
}

func (s *Server) GetContents(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	rev, err := parseRevision(vars["revision"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	abs, err := rr.Normalize(rev)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.readEntry(w, r, rr, abs, vars["path"])
}

// readEntry serves one projected entry; a missing path is EntryNotFound.
func (s *Server) readEntry(w http.ResponseWriter, r *http.Request, rr *repo.Repository,
	abs revision.Revision, path string) {
	query := queryOf(path, r.URL.Query())
	v, err := s.cached(rr, "get", abs.String()+":"+r.URL.RawQuery+":"+path, func() (any, error) {
		return rr.Get(abs, query)
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	entry, _ := v.(*dogma.Entry)
	if entry == nil {
		renderFailureFormat(w, r, http.StatusNotFound, "EntryNotFound",
			"entry '%s' not found at revision %s", path, abs)
		return
	}
	JsonEncode(w, entry)
}

// watchResult is the body of a repository watch that woke up without a
// file query: only the new head revision.
type watchResult struct {
	Revision revision.Revision `json:"revision"`
}

// GetOrWatchContents serves a plain read, or a long poll when the request
// carries an if-none-match revision. The long poll answers 304 when
// nothing relevant changed before the deadline.
func (s *Server) GetOrWatchContents(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	path := mux.Vars(r)["path"]
	lastKnownHeader := r.Header.Get("If-None-Match")
	if lastKnownHeader == "" {
		rev, err := parseRevision(r.URL.Query().Get("revision"))
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		abs, err := rr.Normalize(rev)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		s.readEntry(w, r, rr, abs, path)
		return
	}

	lastKnown, err := revision.Parse(strings.Trim(lastKnownHeader, `"`))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	timeout := s.watchTimeout(r)
	ctx := r.Context()
	if strings.ContainsAny(path, "*{") {
		pattern, err := patternOf(path)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		rev, err := s.watch.WatchRepo(ctx, rr, lastKnown, pattern, timeout)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		if rev == 0 {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		JsonEncode(w, &watchResult{Revision: rev})
		return
	}
	entry, err := s.watch.WatchFile(ctx, rr, lastKnown, queryOf(path, r.URL.Query()), timeout)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	JsonEncode(w, entry)
}

// watchTimeout extracts the client's preferred wait from the prefer header
// ("wait=N" seconds), clamped to the configured maximum.
func (s *Server) watchTimeout(r *http.Request) time.Duration {
	maxTimeout := s.MaxWatchTimeout.Duration
	prefer := r.Header.Get("Prefer")
	for _, part := range strings.Split(prefer, ",") {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, "wait="); ok {
			if secs, err := strconv.Atoi(rest); err == nil && secs > 0 {
				if d := time.Duration(secs) * time.Second; d < maxTimeout {
					return d
				}
			}
		}
	}
	return maxTimeout
}

type pushRequest struct {
	CommitMessage dogma.CommitMessage `json:"commitMessage"`
	Changes       []dogma.Change      `json:"changes"`
}

func (s *Server) Push(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.quota.AllowWrite(vars["project"], vars["repo"]); err != nil {
		s.renderError(w, r, err)
		return
	}
	base, err := parseRevision(r.URL.Query().Get("revision"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}
	if len(req.Changes) == 0 || req.CommitMessage.Summary == "" {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest",
			"a push needs a commit summary and at least one change")
		return
	}
	result, err := s.executor.Execute(r.Context(), &command.PushCommand{
		Timestamp:    time.Now(),
		Author:       requestAuthor(r),
		Project:      vars["project"],
		Repository:   vars["repo"],
		BaseRevision: base,
		Message:      req.CommitMessage,
		Changes:      req.Changes,
		Normalizing:  true,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, result.(*command.PushResult))
}

func (s *Server) PreviewDiff(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.repository(w, r)
	if !ok {
		return
	}
	base, err := parseRevision(r.URL.Query().Get("revision"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var changes []dogma.Change
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}
	preview, err := rr.PreviewDiff(base, changes)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if preview == nil {
		preview = []dogma.Change{}
	}
	JsonEncode(w, preview)
}
