// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Text blobs are canonicalized to end with a newline, so line splitting is
// exact: "a\nb\n" is the two lines a and b.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if len(s) == 0 {
		return nil
	}
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

type lineOp struct {
	op   diffmatchpatch.Operation
	line string
}

func lineDiff(oldText, newText string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{op: d.Type, line: line})
		}
	}
	return ops
}

const hunkContext = 3

// MakeUnified produces a unified diff transforming oldText into newText.
// It returns the empty string when the texts are equal.
func MakeUnified(oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	ops := lineDiff(oldText, newText)

	var b strings.Builder
	b.WriteString("--- a\n+++ b\n")

	// Hunks are maximal runs of edits padded with context, merged when
	// separated by at most 2*hunkContext equal lines.
	i := 0
	oldLine, newLine := 1, 1
	for i < len(ops) {
		if ops[i].op == diffmatchpatch.DiffEqual {
			oldLine++
			newLine++
			i++
			continue
		}
		// Back up for leading context.
		start := i
		lead := 0
		for start > 0 && lead < hunkContext && ops[start-1].op == diffmatchpatch.DiffEqual {
			start--
			lead++
		}
		hunkOldStart := oldLine - lead
		hunkNewStart := newLine - lead

		// Extend the hunk forward, swallowing short equal runs.
		end := i
		for end < len(ops) {
			if ops[end].op != diffmatchpatch.DiffEqual {
				end++
				continue
			}
			run := 0
			for end+run < len(ops) && ops[end+run].op == diffmatchpatch.DiffEqual {
				run++
			}
			if end+run == len(ops) || run > 2*hunkContext {
				end += min(run, hunkContext)
				break
			}
			end += run
		}

		var body strings.Builder
		oldCount, newCount := 0, 0
		for _, op := range ops[start:end] {
			switch op.op {
			case diffmatchpatch.DiffEqual:
				body.WriteString(" " + op.line + "\n")
				oldCount++
				newCount++
			case diffmatchpatch.DiffDelete:
				body.WriteString("-" + op.line + "\n")
				oldCount++
			case diffmatchpatch.DiffInsert:
				body.WriteString("+" + op.line + "\n")
				newCount++
			}
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", hunkOldStart, oldCount, hunkNewStart, newCount)
		b.WriteString(body.String())

		// Advance the line counters over the consumed ops.
		for _, op := range ops[i:end] {
			switch op.op {
			case diffmatchpatch.DiffEqual:
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				oldLine++
			case diffmatchpatch.DiffInsert:
				newLine++
			}
		}
		i = end
	}
	return b.String()
}

// ApplyUnified applies a unified diff to oldText. Context and deleted lines
// must match the input exactly.
func ApplyUnified(oldText, patch string) (string, error) {
	oldLines := splitLines(oldText)
	var out []string
	cursor := 0 // next unconsumed index in oldLines

	lines := strings.Split(patch, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}
		var oldStart, oldCount, newStart, newCount int
		if _, err := fmt.Sscanf(line, "@@ -%d,%d +%d,%d @@", &oldStart, &oldCount, &newStart, &newCount); err != nil {
			return "", fmt.Errorf("malformed hunk header %q: %w", line, err)
		}
		// Copy untouched lines preceding the hunk.
		if oldStart-1 < cursor || oldStart-1 > len(oldLines) {
			return "", fmt.Errorf("hunk %q does not fit the input", line)
		}
		out = append(out, oldLines[cursor:oldStart-1]...)
		cursor = oldStart - 1

		i++
		for ; i < len(lines); i++ {
			h := lines[i]
			if strings.HasPrefix(h, "@@") {
				break
			}
			if len(h) == 0 {
				continue
			}
			body := h[1:]
			switch h[0] {
			case ' ':
				if cursor >= len(oldLines) || oldLines[cursor] != body {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				out = append(out, body)
				cursor++
			case '-':
				if cursor >= len(oldLines) || oldLines[cursor] != body {
					return "", fmt.Errorf("cannot remove line %d: content differs", cursor+1)
				}
				cursor++
			case '+':
				out = append(out, body)
			case '\\':
				// "\ No newline at end of file"
			default:
				return "", fmt.Errorf("malformed patch line %q", h)
			}
		}
	}
	out = append(out, oldLines[cursor:]...)
	return joinLines(out), nil
}
