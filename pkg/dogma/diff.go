// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"encoding/json"
	"sort"

	"github.com/antgroup/dogma/modules/pathpattern"
	"github.com/wI2L/jsondiff"
)

// DiffTrees computes the per-path changes transforming from into to,
// restricted to paths matching the pattern, in lexicographic path order.
//
//   - JSON -> JSON produces a minimal RFC 6902 patch.
//   - TEXT/YAML -> same kind produces a unified diff.
//   - Kind changes and additions produce an upsert; disappearances a
//     removal.
func DiffTrees(from, to TreeMap, pattern *pathpattern.Pattern) ([]Change, error) {
	paths := make(map[string]struct{}, len(from)+len(to))
	for p := range from {
		paths[p] = struct{}{}
	}
	for p := range to {
		paths[p] = struct{}{}
	}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		if pattern == nil || pattern.Matches(p) {
			ordered = append(ordered, p)
		}
	}
	sort.Strings(ordered)

	var changes []Change
	for _, path := range ordered {
		before, hadBefore := from[path]
		after, hasAfter := to[path]
		switch {
		case !hadBefore:
			c, err := upsertOf(path, after)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c)
		case !hasAfter:
			changes = append(changes, NewRemove(path))
		case before.Type != after.Type:
			c, err := upsertOf(path, after)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c)
		case sameContent(before.Type, before.Data, after.Data):
			// untouched
		case before.Type == JSON:
			patch, err := jsondiff.CompareJSON(before.Data, after.Data)
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(patch)
			if err != nil {
				return nil, err
			}
			var content any
			if err := json.Unmarshal(raw, &content); err != nil {
				return nil, err
			}
			changes = append(changes, NewJSONPatch(path, content))
		default:
			changes = append(changes, NewTextPatch(path, MakeUnified(string(before.Data), string(after.Data))))
		}
	}
	return changes, nil
}

func upsertOf(path string, doc Document) (Change, error) {
	switch doc.Type {
	case JSON:
		var v any
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return Change{}, err
		}
		return NewUpsertJSON(path, v), nil
	case YAML:
		return NewUpsertYAML(path, string(doc.Data)), nil
	default:
		return NewUpsertText(path, string(doc.Data)), nil
	}
}
