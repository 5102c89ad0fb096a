// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package session issues and validates authentication sessions. Sessions are
// replicated as commands so every replica accepts the same tokens.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/pkg/command"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a session lives without being renewed.
const DefaultTTL = 12 * time.Hour

// Store holds the live sessions of this node. It applies replicated session
// commands, so its content converges across replicas.
type Store struct {
	secret []byte
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]command.Session
}

func NewStore(secret []byte, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		secret:   secret,
		ttl:      ttl,
		sessions: make(map[string]command.Session),
	}
}

// Prepare builds a new session for the principal. The caller routes it
// through the executor as a CreateSessionCommand before handing out a token.
func (s *Store) Prepare(principal string, now time.Time) command.Session {
	return command.Session{
		ID:        uuid.NewString(),
		Principal: principal,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
}

// CreateSession implements command.SessionHandler.
func (s *Store) CreateSession(sess command.Session) error {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	logrus.Debugf("session %s created for %s", sess.ID, sess.Principal)
	return nil
}

// RemoveSession implements command.SessionHandler.
func (s *Store) RemoveSession(id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Get returns the session when it exists and has not expired. Expired
// sessions are evicted lazily on access.
func (s *Store) Get(id string, now time.Time) (command.Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return command.Session{}, false
	}
	if now.After(sess.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return command.Session{}, false
	}
	return sess, true
}

// Renew extends a session that consumed more than half of its lifetime. ok
// reports whether an extension is due; the returned session carries the new
// expiry. The caller routes it through the executor as a CreateSessionCommand
// so every replica converges on the extension.
func (s *Store) Renew(sess command.Session, now time.Time) (command.Session, bool) {
	if now.Before(sess.ExpiresAt.Add(-s.ttl / 2)) {
		return sess, false
	}
	sess.ExpiresAt = now.Add(s.ttl)
	return sess, true
}

// Len reports the number of stored sessions, including not yet evicted
// expired ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Token mints the bearer token for a session. The token carries no expiry
// claim of its own; the replicated session entry is authoritative for
// lifetime, so a renewed session keeps its original token valid.
func (s *Store) Token(sess command.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:       sess.ID,
		Subject:  sess.Principal,
		IssuedAt: jwt.NewNumericDate(sess.CreatedAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Authenticate validates a bearer token and resolves its session.
func (s *Store) Authenticate(token string, now time.Time) (command.Session, error) {
	claims := new(jwt.RegisteredClaims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		return command.Session{}, plumbing.ErrUnauthenticated
	}
	sess, ok := s.Get(claims.ID, now)
	if !ok {
		return command.Session{}, plumbing.ErrUnauthenticated
	}
	return sess, nil
}

var _ command.SessionHandler = (*Store)(nil)
