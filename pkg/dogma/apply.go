// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"bytes"

	"github.com/antgroup/dogma/modules/plumbing"
)

// Document is entry content in blob form.
type Document struct {
	Type EntryType
	Data []byte
}

// TreeMap is a mutable path -> document view of one revision.
type TreeMap map[string]Document

func (m TreeMap) Clone() TreeMap {
	out := make(TreeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyChanges applies the change set to base in listing order, so that
// later changes observe the effect of earlier ones. It returns the changes
// that altered state (redundant upserts are dropped) and the resulting
// tree. If every change is redundant the whole commit is rejected with
// RedundantChange. The input map is not modified.
//
// When normalizing is set, JSON and YAML upserts are canonicalized before
// comparison and storage.
func ApplyChanges(base TreeMap, changes []Change, normalizing bool) ([]Change, TreeMap, error) {
	next := base.Clone()
	applied := make([]Change, 0, len(changes))

	for _, c := range changes {
		path, err := plumbing.NormalizePath(c.Path)
		if err != nil {
			return nil, nil, err
		}
		c.Path = path

		switch c.Type {
		case UpsertJSON, UpsertText, UpsertYAML:
			data, err := c.contentBytes()
			if err != nil {
				return nil, nil, plumbing.NewErrChangeConflict("%v", err)
			}
			typ := c.EntryType()
			if normalizing {
				if data, err = Canonicalize(typ, data); err != nil {
					return nil, nil, plumbing.NewErrChangeConflict(
						"invalid %s content on '%s': %v", typ, path, err)
				}
			} else if typ == JSON {
				// Even as-is pushes must parse as their declared kind.
				if _, err := canonicalJSON(data); err != nil {
					return nil, nil, plumbing.NewErrChangeConflict(
						"invalid JSON content on '%s': %v", path, err)
				}
			}
			if prev, ok := next[path]; ok && prev.Type == typ && sameContent(typ, prev.Data, data) {
				continue // redundant
			}
			next[path] = Document{Type: typ, Data: data}
			applied = append(applied, c)

		case ApplyJSONPatch:
			prev, ok := next[path]
			if !ok {
				return nil, nil, plumbing.NewErrChangeConflict("cannot patch non-existent file: %s", path)
			}
			if prev.Type != JSON {
				return nil, nil, plumbing.NewErrChangeConflict("cannot apply JSON patch to %s entry: %s", prev.Type, path)
			}
			data, err := applyJSONPatch(prev.Data, c.Content)
			if err != nil {
				return nil, nil, plumbing.NewErrChangeConflict("failed to apply JSON patch to %s: %v", path, err)
			}
			if data, err = canonicalJSON(data); err != nil {
				return nil, nil, plumbing.NewErrChangeConflict("%v", err)
			}
			if sameContent(JSON, prev.Data, data) {
				continue
			}
			next[path] = Document{Type: JSON, Data: data}
			applied = append(applied, c)

		case ApplyTextPatch:
			prev, ok := next[path]
			if !ok {
				return nil, nil, plumbing.NewErrChangeConflict("cannot patch non-existent file: %s", path)
			}
			if prev.Type == JSON {
				return nil, nil, plumbing.NewErrChangeConflict("cannot apply text patch to JSON entry: %s", path)
			}
			unified, _ := c.Content.(string)
			if len(unified) == 0 {
				continue
			}
			text, err := ApplyUnified(string(prev.Data), unified)
			if err != nil {
				return nil, nil, plumbing.NewErrChangeConflict("failed to apply text patch to %s: %v", path, err)
			}
			data := []byte(text)
			if bytes.Equal(prev.Data, data) {
				continue
			}
			next[path] = Document{Type: prev.Type, Data: data}
			applied = append(applied, c)

		case Rename:
			to, err := c.NewPath()
			if err != nil {
				return nil, nil, plumbing.NewErrChangeConflict("%v", err)
			}
			if to, err = plumbing.NormalizePath(to); err != nil {
				return nil, nil, err
			}
			doc, ok := next[path]
			if !ok {
				return nil, nil, plumbing.NewErrChangeConflict("cannot rename non-existent file: %s", path)
			}
			if _, exists := next[to]; exists {
				return nil, nil, plumbing.NewErrChangeConflict("cannot rename %s to existing file: %s", path, to)
			}
			delete(next, path)
			next[to] = doc
			c.Content = to
			applied = append(applied, c)

		case Remove:
			if _, ok := next[path]; !ok {
				return nil, nil, plumbing.NewErrChangeConflict("cannot remove non-existent file: %s", path)
			}
			delete(next, path)
			applied = append(applied, c)

		default:
			return nil, nil, plumbing.NewErrChangeConflict("unsupported change type: %s", c.Type)
		}
	}

	if len(applied) == 0 {
		return nil, nil, plumbing.NewErrRedundantChange(
			"changes did not change anything (%d changes)", len(changes))
	}
	return applied, next, nil
}

// sameContent compares two documents of the same kind; JSON documents are
// compared canonically so key order never causes a spurious change.
func sameContent(typ EntryType, a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	if typ == JSON {
		ca, err1 := canonicalJSON(a)
		cb, err2 := canonicalJSON(b)
		return err1 == nil && err2 == nil && bytes.Equal(ca, cb)
	}
	return false
}
