// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/klauspost/compress/zstd"
)

// Store is a content-addressed object store rooted at a single repository
// directory:
//
//	<root>/objects/<xx>/<hex>   loose objects, zstd compressed
//	<root>/refs/<name>          mutable refs, updated by CAS
//	<root>/tags/<xx>/<rev>      revision number -> commit hash aliases
//
// Object reads are side-effect free and safe for concurrent callers; ref
// writes are serialized by the repository layer.
type Store struct {
	root string
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

func Open(root string) (*Store, error) {
	for _, d := range []string{"objects", "refs", "tags"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			return nil, plumbing.NewErrStorage(err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) objectPath(oid plumbing.Hash) string {
	encoded := oid.String()
	return filepath.Join(s.root, "objects", encoded[:2], encoded)
}

func hashObject(kind ObjectKind, payload []byte) plumbing.Hash {
	h := plumbing.NewHasher()
	_, _ = h.Write(objectHeader(kind, len(payload)))
	_, _ = h.Write(payload)
	return h.Sum()
}

func (s *Store) writeObject(kind ObjectKind, payload []byte) (plumbing.Hash, error) {
	oid := hashObject(kind, payload)
	p := s.objectPath(oid)
	if _, err := os.Stat(p); err == nil {
		// Content addressed: an existing object is always identical.
		return oid, nil
	}
	raw := append(objectHeader(kind, len(payload)), payload...)
	compressed := zstdEncoder.EncodeAll(raw, nil)
	if err := atomicWrite(p, compressed); err != nil {
		return plumbing.ZeroHash, plumbing.NewErrStorage(err)
	}
	return oid, nil
}

func (s *Store) readObject(kind ObjectKind, oid plumbing.Hash) ([]byte, error) {
	compressed, err := os.ReadFile(s.objectPath(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.NoSuchObject(oid)
		}
		return nil, plumbing.NewErrStorage(err)
	}
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, plumbing.NewErrStorage(fmt.Errorf("corrupt object %s: %w", oid, err))
	}
	i := bytes.IndexByte(raw, 0)
	if i < 0 || !bytes.HasPrefix(raw, []byte("dogma "+string(kind)+" ")) {
		return nil, plumbing.NewErrStorage(fmt.Errorf("object %s is not a %s", oid, kind))
	}
	return raw[i+1:], nil
}

// PutBlob stores raw entry content and returns its id.
func (s *Store) PutBlob(content []byte) (plumbing.Hash, error) {
	return s.writeObject(BlobObject, content)
}

func (s *Store) ReadBlob(oid plumbing.Hash) ([]byte, error) {
	return s.readObject(BlobObject, oid)
}

// PutTree stores a tree; entries are sorted before encoding so that equal
// listings always produce equal ids.
func (s *Store) PutTree(t *Tree) (plumbing.Hash, error) {
	t.Sort()
	payload, err := encodeTree(t)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	oid, err := s.writeObject(TreeObject, payload)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	t.Hash = oid
	return oid, nil
}

func (s *Store) ReadTree(oid plumbing.Hash) (*Tree, error) {
	payload, err := s.readObject(TreeObject, oid)
	if err != nil {
		return nil, err
	}
	t, err := decodeTree(payload)
	if err != nil {
		return nil, plumbing.NewErrStorage(err)
	}
	t.Hash = oid
	return t, nil
}

func (s *Store) PutCommit(c *Commit) (plumbing.Hash, error) {
	payload, err := encodeCommit(c)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	oid, err := s.writeObject(CommitObject, payload)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	c.Hash = oid
	return oid, nil
}

func (s *Store) ReadCommit(oid plumbing.Hash) (*Commit, error) {
	payload, err := s.readObject(CommitObject, oid)
	if err != nil {
		return nil, err
	}
	c, err := decodeCommit(payload)
	if err != nil {
		return nil, plumbing.NewErrStorage(err)
	}
	c.Hash = oid
	return c, nil
}

func (s *Store) Exists(oid plumbing.Hash) bool {
	_, err := os.Stat(s.objectPath(oid))
	return err == nil
}

func atomicWrite(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, name)
}
