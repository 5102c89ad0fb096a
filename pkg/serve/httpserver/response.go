// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/sirupsen/logrus"
)

const (
	ErrorMessageKey = "X-Dogma-Error-Message"
	JSON_MIME       = "application/json"
)

// ErrorEnvelope is the uniform error body: a stable kind plus a
// human-readable message.
type ErrorEnvelope struct {
	Exception string `json:"exception"`
	Message   string `json:"message"`
}

// ResponseWriter shadow ResponseWriter
type ResponseWriter struct {
	http.ResponseWriter
	written    int64
	statusCode int
	remoteAddr string
}

// NewResponseWriter bind ResponseWriter
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK, remoteAddr: parseRemoteAddress(r)}
}

// Write data
func (w *ResponseWriter) Write(data []byte) (int, error) {
	written, err := w.ResponseWriter.Write(data)
	w.written += int64(written)
	return written, err
}

// WriteHeader write header statusCode
func (w *ResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// StatusCode return statusCode
func (w *ResponseWriter) StatusCode() int {
	return w.statusCode
}

// Written return body size
func (w *ResponseWriter) Written() int64 {
	return w.written
}

func (w *ResponseWriter) RemoteAddress() string {
	return w.remoteAddr
}

type trackedReader struct {
	rc       io.ReadCloser
	received int64
}

func newTrackedReader(rc io.ReadCloser) *trackedReader {
	return &trackedReader{rc: rc}
}

func (r *trackedReader) Read(data []byte) (int, error) {
	n, err := r.rc.Read(data)
	r.received += int64(n)
	return n, err
}

func (r *trackedReader) Close() error {
	return r.rc.Close()
}

func parseRemoteAddress(r *http.Request) string {
	xForwardedFor := r.Header.Get("X-Forwarded-For")
	if addr := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0]); len(addr) != 0 {
		return addr
	}
	if addr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); len(addr) != 0 {
		return addr
	}
	addr, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	return addr
}

func renderFailure(w http.ResponseWriter, r *http.Request, code int, exception, message string) {
	resp := &ErrorEnvelope{Exception: exception, Message: message}
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
	if code >= http.StatusBadRequest {
		r.Header.Set(ErrorMessageKey, message)
	}
}

func renderFailureFormat(w http.ResponseWriter, r *http.Request, code int, exception, format string, a ...any) {
	renderFailure(w, r, code, exception, fmt.Sprintf(format, a...))
}

// renderError maps the error taxonomy onto HTTP statuses and the envelope's
// exception kind.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case plumbing.IsErrBadName(err):
		renderFailure(w, r, http.StatusBadRequest, "InvalidName", err.Error())
	case plumbing.IsErrProjectNotFound(err):
		renderFailure(w, r, http.StatusNotFound, "ProjectNotFound", err.Error())
	case plumbing.IsErrRepositoryNotFound(err):
		renderFailure(w, r, http.StatusNotFound, "RepositoryNotFound", err.Error())
	case plumbing.IsErrEntryNotFound(err), plumbing.IsNoSuchObject(err):
		renderFailure(w, r, http.StatusNotFound, "EntryNotFound", err.Error())
	case plumbing.IsErrRevisionNotFound(err):
		renderFailure(w, r, http.StatusNotFound, "RevisionNotFound", err.Error())
	case plumbing.IsErrProjectExists(err):
		renderFailure(w, r, http.StatusConflict, "ProjectExists", err.Error())
	case plumbing.IsErrRepositoryExists(err):
		renderFailure(w, r, http.StatusConflict, "RepositoryExists", err.Error())
	case plumbing.IsErrChangeConflict(err):
		renderFailure(w, r, http.StatusConflict, "ChangeConflict", err.Error())
	case plumbing.IsErrRedundantChange(err):
		renderFailure(w, r, http.StatusConflict, "RedundantChange", err.Error())
	case plumbing.IsErrQueryExecution(err):
		renderFailure(w, r, http.StatusBadRequest, "QueryExecution", err.Error())
	case errors.Is(err, plumbing.ErrReadOnly):
		renderFailure(w, r, http.StatusServiceUnavailable, "ReadOnly", err.Error())
	case errors.Is(err, plumbing.ErrQuotaExceeded):
		renderFailure(w, r, http.StatusTooManyRequests, "QuotaExceeded", err.Error())
	case errors.Is(err, plumbing.ErrPermissionDenied):
		renderFailure(w, r, http.StatusForbidden, "PermissionDenied", err.Error())
	case errors.Is(err, plumbing.ErrUnauthenticated):
		renderFailure(w, r, http.StatusUnauthorized, "Unauthenticated", err.Error())
	case errors.Is(err, plumbing.ErrReplicationUnavailable):
		renderFailure(w, r, http.StatusServiceUnavailable, "ReplicationUnavailable", err.Error())
	case plumbing.IsErrStorage(err):
		renderFailure(w, r, http.StatusInternalServerError, "Storage", "storage failure")
		r.Header.Set(ErrorMessageKey, err.Error())
	default:
		renderFailure(w, r, http.StatusInternalServerError, "Internal", "internal server error")
		r.Header.Set(ErrorMessageKey, err.Error())
	}
}

func JsonEncode(w http.ResponseWriter, a any) {
	JsonEncodeStatus(w, http.StatusOK, a)
}

func JsonEncodeStatus(w http.ResponseWriter, statusCode int, a any) {
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(a); err != nil {
		logrus.Errorf("encode response error: %v", err)
	}
}
