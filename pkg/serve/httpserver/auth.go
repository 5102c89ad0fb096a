// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/pkg/command"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/sirupsen/logrus"
)

type principalKey struct{}

// requestAuthor resolves the commit author for a request: the session
// principal when authentication is on, a well-known placeholder otherwise.
func requestAuthor(r *http.Request) dogma.Author {
	if principal, ok := r.Context().Value(principalKey{}).(string); ok && principal != "" {
		return dogma.Author{Name: principal, Email: principal + "@localhost"}
	}
	return dogma.Author{Name: "anonymous", Email: "anonymous@localhost"}
}

// authEnabled reports whether the server requires bearer tokens. Without a
// configured secret the server runs open, for development and tests.
func (s *Server) authEnabled() bool { return len(s.Secret) != 0 }

// authorized wraps a handler with bearer-token validation.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authEnabled() {
			token, ok := bearerToken(r)
			if !ok {
				s.renderError(w, r, plumbing.ErrUnauthenticated)
				return
			}
			sess, err := s.sessions.Authenticate(token, time.Now())
			if err != nil {
				s.renderError(w, r, err)
				return
			}
			s.refreshSession(r.Context(), sess)
			r = r.WithContext(context.WithValue(r.Context(), principalKey{}, sess.Principal))
		}
		next(w, r)
	}
}

// refreshSession extends a session past its half-life on read. The extension
// rides a replicated session command, force-pushed so authentication stays
// alive while the server is read-only.
func (s *Server) refreshSession(ctx context.Context, sess command.Session) {
	renewed, due := s.sessions.Renew(sess, time.Now())
	if !due {
		return
	}
	if _, err := s.executor.Execute(ctx, &command.ForcePushCommand{Wrapped: &command.CreateSessionCommand{
		Timestamp: time.Now(),
		Session:   renewed,
	}}); err != nil {
		logrus.Warnf("failed to refresh session %s: %v", sess.ID, err)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Login creates a session and returns its bearer token. Credential
// verification is delegated to the deployment (an authentication provider in
// front of the server); here a non-empty username is the principal.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled() {
		renderFailure(w, r, http.StatusBadRequest, "InvalidRequest", "authentication is disabled")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		s.renderError(w, r, plumbing.ErrUnauthenticated)
		return
	}

	// The session command is force-pushed so operators can still sign in
	// while the server is read-only.
	sess := s.sessions.Prepare(req.Username, time.Now())
	if _, err := s.executor.Execute(r.Context(), &command.ForcePushCommand{Wrapped: &command.CreateSessionCommand{
		Timestamp: time.Now(),
		Session:   sess,
	}}); err != nil {
		s.renderError(w, r, err)
		return
	}
	token, err := s.sessions.Token(sess)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, &loginResponse{AccessToken: token, ExpiresAt: sess.ExpiresAt})
}
