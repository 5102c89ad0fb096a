// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SnapshotTransfer brings a replica's storage up to date when the entries
// it still needs were already purged from the command log. After a
// successful transfer the replica resumes replay from the oldest retained
// entry.
type SnapshotTransfer interface {
	Resync(ctx context.Context) error
}

// LocalCopyTransfer resyncs by copying a snapshot directory over the data
// directory. It serves single-host deployments and tests; remote transports
// implement SnapshotTransfer themselves.
type LocalCopyTransfer struct {
	Source string
	Target string
}

func (t *LocalCopyTransfer) Resync(ctx context.Context) error {
	return filepath.WalkDir(t.Source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(t.Source, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(t.Target, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0755)
		}
		return copyFile(p, dest)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
