// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antgroup/dogma/modules/plumbing"
)

// HEAD is the single mutable ref of a repository; it names the newest
// commit.
const HEAD = "HEAD"

var (
	ErrRefNotFound = errors.New("ref does not exist")
	// ErrStaleRef is returned by UpdateRef when the expected hash no
	// longer matches; the caller lost a CAS race.
	ErrStaleRef = errors.New("stale ref update")
)

func (s *Store) refPath(name string) string {
	return filepath.Join(s.root, "refs", name)
}

// Ref reads the current target of the named ref.
func (s *Store) Ref(name string) (plumbing.Hash, error) {
	data, err := os.ReadFile(s.refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return plumbing.ZeroHash, ErrRefNotFound
		}
		return plumbing.ZeroHash, plumbing.NewErrStorage(err)
	}
	return plumbing.NewHashEx(strings.TrimSpace(string(data)))
}

// UpdateRef atomically moves the ref from expected to oid. A zero expected
// hash asserts that the ref does not exist yet. The lock file serializes
// racing writers; the comparison under the lock provides compare-and-set.
func (s *Store) UpdateRef(name string, expected, oid plumbing.Hash) error {
	p := s.refPath(name)
	lock := p + ".lock"
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return plumbing.NewErrStorage(err)
	}
	fd, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrStaleRef
		}
		return plumbing.NewErrStorage(err)
	}
	defer func() {
		_ = fd.Close()
		_ = os.Remove(lock)
	}()

	current, err := s.Ref(name)
	switch {
	case err == ErrRefNotFound:
		current = plumbing.ZeroHash
	case err != nil:
		return err
	}
	if current != expected {
		return fmt.Errorf("%w: ref %s is %s, expected %s", ErrStaleRef, name, current, expected)
	}
	if err := atomicWrite(p, []byte(oid.String()+"\n")); err != nil {
		return plumbing.NewErrStorage(err)
	}
	return nil
}

// RemoveRef deletes the named ref. Missing refs are not an error.
func (s *Store) RemoveRef(name string) error {
	if err := os.Remove(s.refPath(name)); err != nil && !os.IsNotExist(err) {
		return plumbing.NewErrStorage(err)
	}
	return nil
}
