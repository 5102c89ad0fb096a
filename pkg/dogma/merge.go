// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"github.com/antgroup/dogma/modules/plumbing"
)

// MergeSource names one JSON file of a merged query. Optional sources that
// do not exist are skipped instead of failing the query.
type MergeSource struct {
	Path     string `json:"path"`
	Optional bool   `json:"optional,omitempty"`
}

// MergeQuery reads several JSON files and merges them in listing order,
// optionally projecting the merged document with JSON-Path expressions.
type MergeQuery struct {
	Sources     []MergeSource `json:"sources"`
	Expressions []string      `json:"expressions,omitempty"`
}

// Merge deep-merges the given JSON documents in order: objects merge
// recursively, anything else is replaced by the later document.
func Merge(docs ...any) any {
	var out any
	for _, doc := range docs {
		out = mergeValue(out, doc)
	}
	return out
}

func mergeValue(base, overlay any) any {
	bm, bok := base.(map[string]any)
	om, ook := overlay.(map[string]any)
	if !bok || !ook {
		return overlay
	}
	merged := make(map[string]any, len(bm)+len(om))
	for k, v := range bm {
		merged[k] = v
	}
	for k, v := range om {
		if prev, ok := merged[k]; ok {
			merged[k] = mergeValue(prev, v)
		} else {
			merged[k] = v
		}
	}
	return merged
}

// ApplyExpressions projects the merged document when the query carries
// JSON-Path expressions.
func (q *MergeQuery) ApplyExpressions(merged any) (any, error) {
	if len(q.Expressions) == 0 {
		return merged, nil
	}
	return evalJSONPath(merged, "<merged>", q.Expressions)
}

// Validate rejects merge queries without sources or with non-JSON paths.
func (q *MergeQuery) Validate() error {
	if len(q.Sources) == 0 {
		return plumbing.NewErrQueryExecution("merge query needs at least one source")
	}
	for _, s := range q.Sources {
		if EntryTypeOf(s.Path) != JSON {
			return plumbing.NewErrQueryExecution("merge source must be JSON: %s", s.Path)
		}
	}
	return nil
}
