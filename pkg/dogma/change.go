// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ChangeType discriminates the mutations a commit may carry. The value is
// carried verbatim in the wire form's "type" field.
type ChangeType string

const (
	UpsertJSON     ChangeType = "UPSERT_JSON"
	UpsertText     ChangeType = "UPSERT_TEXT"
	UpsertYAML     ChangeType = "UPSERT_YAML"
	ApplyJSONPatch ChangeType = "APPLY_JSON_PATCH"
	ApplyTextPatch ChangeType = "APPLY_TEXT_PATCH"
	Rename         ChangeType = "RENAME"
	Remove         ChangeType = "REMOVE"
)

// Change is one intended mutation within a commit.
//
//   - UPSERT_*: Content is the new document (decoded JSON value, or text).
//   - APPLY_JSON_PATCH: Content is an RFC 6902 patch array.
//   - APPLY_TEXT_PATCH: Content is a unified diff string.
//   - RENAME: Content is the new path.
//   - REMOVE: Content is absent.
type Change struct {
	Type    ChangeType `json:"type"`
	Path    string     `json:"path"`
	Content any        `json:"content,omitempty"`
}

// EntryType returns the entry kind an upsert produces.
func (c *Change) EntryType() EntryType {
	switch c.Type {
	case UpsertJSON:
		return JSON
	case UpsertYAML:
		return YAML
	default:
		return Text
	}
}

// contentBytes encodes the change content into blob form.
func (c *Change) contentBytes() ([]byte, error) {
	switch c.Type {
	case UpsertJSON:
		return json.Marshal(c.Content)
	case UpsertText, UpsertYAML:
		if s, ok := c.Content.(string); ok {
			return []byte(s), nil
		}
		return nil, fmt.Errorf("%s change on '%s' requires textual content", c.Type, c.Path)
	}
	return nil, fmt.Errorf("change %s on '%s' carries no content", c.Type, c.Path)
}

// NewPath returns the rename target of a RENAME change.
func (c *Change) NewPath() (string, error) {
	s, ok := c.Content.(string)
	if !ok || len(s) == 0 {
		return "", fmt.Errorf("rename of '%s' requires a target path", c.Path)
	}
	return s, nil
}

// applyJSONPatch applies an RFC 6902 patch to the given JSON document.
func applyJSONPatch(doc []byte, patchContent any) ([]byte, error) {
	raw, err := json.Marshal(patchContent)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, err
	}
	return patch.Apply(doc)
}

func NewUpsertJSON(path string, content any) Change {
	return Change{Type: UpsertJSON, Path: path, Content: content}
}

func NewUpsertText(path, content string) Change {
	return Change{Type: UpsertText, Path: path, Content: content}
}

func NewUpsertYAML(path, content string) Change {
	return Change{Type: UpsertYAML, Path: path, Content: content}
}

func NewRemove(path string) Change {
	return Change{Type: Remove, Path: path}
}

func NewRename(path, newPath string) Change {
	return Change{Type: Rename, Path: path, Content: newPath}
}

func NewJSONPatch(path string, patch any) Change {
	return Change{Type: ApplyJSONPatch, Path: path, Content: patch}
}

func NewTextPatch(path, unified string) Change {
	return Change{Type: ApplyTextPatch, Path: path, Content: unified}
}
