// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dogma

import (
	"time"

	"github.com/antgroup/dogma/modules/revision"
)

// Markup of a commit message detail.
type Markup string

const (
	Plaintext Markup = "PLAINTEXT"
	Markdown  Markup = "MARKDOWN"
)

// Author identifies who pushed a commit.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// System is the author of internally generated commits.
var System = Author{Name: "System", Email: "system@localhost"}

// CommitMessage carries the human-readable description of a commit.
type CommitMessage struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
	Markup  Markup `json:"markup,omitempty"`
}

// Commit is the wire form of one revision record.
type Commit struct {
	Revision      revision.Revision `json:"revision"`
	Author        Author            `json:"author"`
	PushedAt      time.Time         `json:"pushedAt"`
	CommitMessage CommitMessage     `json:"commitMessage"`
	Changes       []Change          `json:"changes,omitempty"`
}

// Paths returns every path touched by the commit's change set, including
// rename targets.
func (c *Commit) Paths() []string {
	paths := make([]string, 0, len(c.Changes))
	for _, ch := range c.Changes {
		paths = append(paths, ch.Path)
		if ch.Type == Rename {
			if to, err := ch.NewPath(); err == nil {
				paths = append(paths, to)
			}
		}
	}
	return paths
}
