// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"encoding/json"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// QueryType selects the projection applied to an entry before delivery.
type QueryType string

const (
	// Identity delivers the content as-is.
	Identity QueryType = "IDENTITY"
	// JSONPath applies one or more JSON-Path expressions in order.
	JSONPath QueryType = "JSON_PATH"
	// AsText coerces a JSON document into its raw text form.
	AsText QueryType = "IDENTITY_TEXT"
)

// Query is a read projection over a single entry.
type Query struct {
	Path        string    `json:"path"`
	Type        QueryType `json:"type"`
	Expressions []string  `json:"expressions,omitempty"`
}

func NewQuery(path string) *Query {
	return &Query{Path: path, Type: Identity}
}

func NewJSONPathQuery(path string, expressions ...string) *Query {
	return &Query{Path: path, Type: JSONPath, Expressions: expressions}
}

// Apply evaluates the projection against decoded entry content and returns
// the projected value.
func (q *Query) Apply(e *Entry) (any, error) {
	if q == nil || q.Type == Identity {
		return e.Content, nil
	}
	switch q.Type {
	case AsText:
		if e.Type == JSON {
			raw, err := json.Marshal(e.Content)
			if err != nil {
				return nil, plumbing.NewErrQueryExecution("cannot render '%s' as text: %v", e.Path, err)
			}
			return string(raw), nil
		}
		return e.Content, nil
	case JSONPath:
		if e.Type != JSON {
			return nil, plumbing.NewErrQueryExecution(
				"JSON path evaluation on %s entry '%s'", e.Type, e.Path)
		}
		return evalJSONPath(e.Content, e.Path, q.Expressions)
	}
	return nil, plumbing.NewErrQueryExecution("unsupported query type: %s", q.Type)
}

// evalJSONPath applies the expressions in order, each against the previous
// result. ojg's jp package operates on the oj value model, so the content
// is re-parsed once up front.
func evalJSONPath(content any, path string, expressions []string) (any, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, plumbing.NewErrQueryExecution("entry '%s' is not valid JSON: %v", path, err)
	}
	value, err := oj.Parse(raw)
	if err != nil {
		return nil, plumbing.NewErrQueryExecution("entry '%s' is not valid JSON: %v", path, err)
	}
	for _, expression := range expressions {
		expr, err := jp.ParseString(expression)
		if err != nil {
			return nil, plumbing.NewErrQueryExecution("malformed JSON path: %s", expression)
		}
		matches := expr.Get(value)
		switch len(matches) {
		case 0:
			return nil, plumbing.NewErrQueryExecution(
				"JSON path '%s' matched nothing in '%s'", expression, path)
		case 1:
			value = matches[0]
		default:
			value = matches
		}
	}
	// Round-trip back into the plain encoding/json value model so callers
	// can compare projections structurally.
	raw, err = json.Marshal(value)
	if err != nil {
		return nil, plumbing.NewErrQueryExecution("JSON path result not serializable: %v", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, plumbing.NewErrQueryExecution("JSON path result not serializable: %v", err)
	}
	return out, nil
}
