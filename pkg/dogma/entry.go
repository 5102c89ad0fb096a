// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"encoding/json"
	"strings"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/antgroup/dogma/modules/revision"
	"gopkg.in/yaml.v3"
)

// EntryType discriminates the kinds of an entry at a revision.
type EntryType string

const (
	JSON      EntryType = "JSON"
	Text      EntryType = "TEXT"
	YAML      EntryType = "YAML"
	Directory EntryType = "DIRECTORY"
)

// EntryTypeOf derives the entry kind from the path extension.
func EntryTypeOf(path string) EntryType {
	switch {
	case strings.HasSuffix(path, ".json"):
		return JSON
	case strings.HasSuffix(path, ".yml"), strings.HasSuffix(path, ".yaml"):
		return YAML
	}
	return Text
}

// Entry is a leaf or directory at a given revision. Content is the decoded
// JSON value for JSON entries, the raw text for TEXT and YAML entries, and
// nil for directories.
type Entry struct {
	Path     string            `json:"path"`
	Type     EntryType         `json:"type"`
	Revision revision.Revision `json:"revision,omitempty"`
	Content  any               `json:"content,omitempty"`
}

// NewEntry decodes raw blob content into an Entry of the given kind.
func NewEntry(rev revision.Revision, path string, typ EntryType, raw []byte) (*Entry, error) {
	e := &Entry{Path: path, Type: typ, Revision: rev}
	switch typ {
	case JSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, plumbing.NewErrQueryExecution("entry '%s' is not valid JSON: %v", path, err)
		}
		e.Content = v
	case Directory:
	default:
		e.Content = string(raw)
	}
	return e, nil
}

// ContentBytes re-encodes the entry content into blob form.
func (e *Entry) ContentBytes() ([]byte, error) {
	switch e.Type {
	case JSON:
		return json.Marshal(e.Content)
	case Directory:
		return nil, nil
	default:
		s, _ := e.Content.(string)
		return []byte(s), nil
	}
}

// canonicalJSON re-serializes a JSON document into its canonical form:
// object keys sorted, no insignificant whitespace.
func canonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(v)
}

// canonicalYAML re-serializes a YAML document with stable field order and
// whitespace.
func canonicalYAML(raw []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return yaml.Marshal(v)
}

// Canonicalize returns the canonical storage form of content of the given
// kind. TEXT content is already canonical except for a guaranteed trailing
// newline.
func Canonicalize(typ EntryType, raw []byte) ([]byte, error) {
	switch typ {
	case JSON:
		return canonicalJSON(raw)
	case YAML:
		return canonicalYAML(raw)
	case Text:
		if len(raw) != 0 && raw[len(raw)-1] != '\n' {
			return append(raw, '\n'), nil
		}
		return raw, nil
	}
	return raw, nil
}
