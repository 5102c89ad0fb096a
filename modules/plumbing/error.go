package plumbing

import (
	"errors"
	"fmt"
)

var (
	// ErrStop is used to stop a ForEach function in an Iter
	ErrStop = errors.New("stop iter")
)

// noSuchObject is an error type that occurs when no object with a given object
// ID is available.
type noSuchObject struct {
	oid Hash
}

// Error implements the error.Error() function.
func (e *noSuchObject) Error() string {
	return fmt.Sprintf("dogma: no such object: %s", e.oid)
}

// NoSuchObject creates a new error representing a missing object with a given
// object ID.
func NoSuchObject(oid Hash) error {
	return &noSuchObject{oid: oid}
}

// IsNoSuchObject indicates whether an error is a noSuchObject and is non-nil.
func IsNoSuchObject(e error) bool {
	if e == nil {
		return false
	}
	err, ok := e.(*noSuchObject)
	return ok && err != nil
}

// ErrRevisionNotFound reports an absolute or relative revision that does not
// resolve against the current head.
type ErrRevisionNotFound struct {
	Reason string
}

func (e *ErrRevisionNotFound) Error() string { return e.Reason }

func NewErrRevisionNotFound(format string, a ...any) error {
	return &ErrRevisionNotFound{Reason: fmt.Sprintf(format, a...)}
}

func IsErrRevisionNotFound(e error) bool {
	err, ok := e.(*ErrRevisionNotFound)
	return ok && err != nil
}

type ErrEntryNotFound struct {
	Path string
}

func (e *ErrEntryNotFound) Error() string {
	return fmt.Sprintf("entry '%s' does not exist", e.Path)
}

func NewErrEntryNotFound(path string) error {
	return &ErrEntryNotFound{Path: path}
}

func IsErrEntryNotFound(e error) bool {
	err, ok := e.(*ErrEntryNotFound)
	return ok && err != nil
}

type ErrProjectExists struct {
	Name string
}

func (e *ErrProjectExists) Error() string {
	return fmt.Sprintf("project '%s' exists already", e.Name)
}

func IsErrProjectExists(e error) bool {
	err, ok := e.(*ErrProjectExists)
	return ok && err != nil
}

type ErrProjectNotFound struct {
	Name string
}

func (e *ErrProjectNotFound) Error() string {
	return fmt.Sprintf("project '%s' does not exist", e.Name)
}

func IsErrProjectNotFound(e error) bool {
	err, ok := e.(*ErrProjectNotFound)
	return ok && err != nil
}

type ErrRepositoryExists struct {
	Name string
}

func (e *ErrRepositoryExists) Error() string {
	return fmt.Sprintf("repository '%s' exists already", e.Name)
}

func IsErrRepositoryExists(e error) bool {
	err, ok := e.(*ErrRepositoryExists)
	return ok && err != nil
}

type ErrRepositoryNotFound struct {
	Name string
}

func (e *ErrRepositoryNotFound) Error() string {
	return fmt.Sprintf("repository '%s' does not exist", e.Name)
}

func IsErrRepositoryNotFound(e error) bool {
	err, ok := e.(*ErrRepositoryNotFound)
	return ok && err != nil
}

// ErrChangeConflict reports a stale base revision or a path-level conflict
// with commits interleaved between the base and the head.
type ErrChangeConflict struct {
	Reason string
}

func (e *ErrChangeConflict) Error() string { return e.Reason }

func NewErrChangeConflict(format string, a ...any) error {
	return &ErrChangeConflict{Reason: fmt.Sprintf(format, a...)}
}

func IsErrChangeConflict(e error) bool {
	err, ok := e.(*ErrChangeConflict)
	return ok && err != nil
}

// ErrRedundantChange reports a commit whose every change leaves the tree as
// it already is.
type ErrRedundantChange struct {
	Reason string
}

func (e *ErrRedundantChange) Error() string { return e.Reason }

func NewErrRedundantChange(format string, a ...any) error {
	return &ErrRedundantChange{Reason: fmt.Sprintf(format, a...)}
}

func IsErrRedundantChange(e error) bool {
	err, ok := e.(*ErrRedundantChange)
	return ok && err != nil
}

// ErrQueryExecution reports a query that cannot be evaluated against an
// entry: kind mismatch or a malformed expression.
type ErrQueryExecution struct {
	Reason string
}

func (e *ErrQueryExecution) Error() string { return e.Reason }

func NewErrQueryExecution(format string, a ...any) error {
	return &ErrQueryExecution{Reason: fmt.Sprintf(format, a...)}
}

func IsErrQueryExecution(e error) bool {
	err, ok := e.(*ErrQueryExecution)
	return ok && err != nil
}

var (
	// ErrReadOnly is returned when the cluster or a repository refuses
	// writes.
	ErrReadOnly = errors.New("server is in read-only mode")
	// ErrQuotaExceeded is returned when the per-repository write quota
	// rejects a push.
	ErrQuotaExceeded = errors.New("too many commits are attempted")
	// ErrReplicationUnavailable is returned when the leader is lost or the
	// replication log is unreachable.
	ErrReplicationUnavailable = errors.New("replication log unavailable")
	// ErrPermissionDenied is the authorization boundary error.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthenticated is returned for requests lacking a valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ErrStorage marks an unrecoverable object-store I/O failure. A repository
// that observed one is quiesced: further writes fail until the process
// restarts or an operator clears the condition.
type ErrStorage struct {
	Cause error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage failure: %v", e.Cause)
}

func (e *ErrStorage) Unwrap() error { return e.Cause }

func NewErrStorage(cause error) error {
	return &ErrStorage{Cause: cause}
}

func IsErrStorage(e error) bool {
	var err *ErrStorage
	return errors.As(e, &err)
}
