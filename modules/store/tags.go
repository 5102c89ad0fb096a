// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antgroup/dogma/modules/plumbing"
)

// Tags alias revision numbers to commit hashes so that resolving an
// absolute revision never requires walking the commit chain. They are laid
// out in first-byte-pair shard directories to keep any single directory
// small:
//
//	tags/<xx>/<%08x revision>
func (s *Store) tagPath(revision int64) string {
	name := fmt.Sprintf("%08x", revision)
	return filepath.Join(s.root, "tags", name[:2], name)
}

// PutTag records revision -> oid. Tags are written once per commit and
// never change afterwards.
func (s *Store) PutTag(revision int64, oid plumbing.Hash) error {
	if err := atomicWrite(s.tagPath(revision), []byte(oid.String()+"\n")); err != nil {
		return plumbing.NewErrStorage(err)
	}
	return nil
}

// Tag resolves a revision number to the commit hash it aliases.
func (s *Store) Tag(revision int64) (plumbing.Hash, error) {
	data, err := os.ReadFile(s.tagPath(revision))
	if err != nil {
		if os.IsNotExist(err) {
			return plumbing.ZeroHash, plumbing.NewErrRevisionNotFound("revision: %d", revision)
		}
		return plumbing.ZeroHash, plumbing.NewErrStorage(err)
	}
	return plumbing.NewHashEx(strings.TrimSpace(string(data)))
}

// CommitAt reads the commit aliased by the given absolute revision.
func (s *Store) CommitAt(revision int64) (*Commit, error) {
	oid, err := s.Tag(revision)
	if err != nil {
		return nil, err
	}
	return s.ReadCommit(oid)
}

// TreeAt reads the tree of the commit at the given absolute revision.
func (s *Store) TreeAt(revision int64) (*Tree, error) {
	c, err := s.CommitAt(revision)
	if err != nil {
		return nil, err
	}
	return s.ReadTree(c.Tree)
}
