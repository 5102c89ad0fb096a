// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package command models every mutation of the system as a typed, JSON
// serializable command, so that a single code path serves both direct
// execution and replication replay.
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
)

// Type discriminates commands on the wire.
type Type string

const (
	TypeCreateProject       Type = "CREATE_PROJECT"
	TypeRemoveProject       Type = "REMOVE_PROJECT"
	TypeUnremoveProject     Type = "UNREMOVE_PROJECT"
	TypePurgeProject        Type = "PURGE_PROJECT"
	TypeCreateRepository    Type = "CREATE_REPOSITORY"
	TypeRemoveRepository    Type = "REMOVE_REPOSITORY"
	TypeUnremoveRepository  Type = "UNREMOVE_REPOSITORY"
	TypePurgeRepository     Type = "PURGE_REPOSITORY"
	TypePush                Type = "PUSH"
	TypeNormalizingPush     Type = "NORMALIZING_PUSH"
	TypeTransform           Type = "TRANSFORM"
	TypeForcePush           Type = "FORCE_PUSH"
	TypeCreateSession       Type = "CREATE_SESSION"
	TypeRemoveSession       Type = "REMOVE_SESSION"
	TypeUpdateServerStatus  Type = "UPDATE_SERVER_STATUS"
	TypeRotateRepositoryKey Type = "ROTATE_REPOSITORY_KEY"
	TypeRotateMasterKey     Type = "ROTATE_MASTER_KEY"
)

// Command is one replicated mutation. Concrete commands are plain structs;
// results of execution are documented per command on Executor.Execute.
type Command interface {
	Type() Type
	// Target names the project and repository the command mutates; either
	// may be empty when not applicable.
	Target() (project, repo string)
}

type CreateProjectCommand struct {
	Timestamp time.Time    `json:"timestamp"`
	Author    dogma.Author `json:"author"`
	Project   string       `json:"project"`
}

func (c *CreateProjectCommand) Type() Type               { return TypeCreateProject }
func (c *CreateProjectCommand) Target() (string, string) { return c.Project, "" }

type RemoveProjectCommand struct {
	Timestamp time.Time    `json:"timestamp"`
	Author    dogma.Author `json:"author"`
	Project   string       `json:"project"`
}

func (c *RemoveProjectCommand) Type() Type               { return TypeRemoveProject }
func (c *RemoveProjectCommand) Target() (string, string) { return c.Project, "" }

type UnremoveProjectCommand struct {
	Timestamp time.Time    `json:"timestamp"`
	Author    dogma.Author `json:"author"`
	Project   string       `json:"project"`
}

func (c *UnremoveProjectCommand) Type() Type               { return TypeUnremoveProject }
func (c *UnremoveProjectCommand) Target() (string, string) { return c.Project, "" }

type PurgeProjectCommand struct {
	Timestamp time.Time    `json:"timestamp"`
	Author    dogma.Author `json:"author"`
	Project   string       `json:"project"`
}

func (c *PurgeProjectCommand) Type() Type               { return TypePurgeProject }
func (c *PurgeProjectCommand) Target() (string, string) { return c.Project, "" }

type CreateRepositoryCommand struct {
	Timestamp  time.Time    `json:"timestamp"`
	Author     dogma.Author `json:"author"`
	Project    string       `json:"project"`
	Repository string       `json:"repository"`
}

func (c *CreateRepositoryCommand) Type() Type               { return TypeCreateRepository }
func (c *CreateRepositoryCommand) Target() (string, string) { return c.Project, c.Repository }

type RemoveRepositoryCommand struct {
	Timestamp  time.Time    `json:"timestamp"`
	Author     dogma.Author `json:"author"`
	Project    string       `json:"project"`
	Repository string       `json:"repository"`
}

func (c *RemoveRepositoryCommand) Type() Type               { return TypeRemoveRepository }
func (c *RemoveRepositoryCommand) Target() (string, string) { return c.Project, c.Repository }

type UnremoveRepositoryCommand struct {
	Timestamp  time.Time    `json:"timestamp"`
	Author     dogma.Author `json:"author"`
	Project    string       `json:"project"`
	Repository string       `json:"repository"`
}

func (c *UnremoveRepositoryCommand) Type() Type               { return TypeUnremoveRepository }
func (c *UnremoveRepositoryCommand) Target() (string, string) { return c.Project, c.Repository }

type PurgeRepositoryCommand struct {
	Timestamp  time.Time    `json:"timestamp"`
	Author     dogma.Author `json:"author"`
	Project    string       `json:"project"`
	Repository string       `json:"repository"`
}

func (c *PurgeRepositoryCommand) Type() Type               { return TypePurgeRepository }
func (c *PurgeRepositoryCommand) Target() (string, string) { return c.Project, c.Repository }

// PushCommand appends a commit. Normalizing pushes canonicalize content and
// drop redundant changes before committing.
type PushCommand struct {
	Timestamp    time.Time           `json:"timestamp"`
	Author       dogma.Author        `json:"author"`
	Project      string              `json:"project"`
	Repository   string              `json:"repository"`
	BaseRevision revision.Revision   `json:"baseRevision"`
	Message      dogma.CommitMessage `json:"commitMessage"`
	Changes      []dogma.Change      `json:"changes"`
	Normalizing  bool                `json:"-"`
}

func (c *PushCommand) Type() Type {
	if c.Normalizing {
		return TypeNormalizingPush
	}
	return TypePush
}

func (c *PushCommand) Target() (string, string) { return c.Project, c.Repository }

// TransformCommand commits the result of applying a server-side function to
// the current value of one file. The function cannot travel the wire: the
// executor materializes the command into the normalizing push it produces
// before it reaches the replication log, so Marshal rejects it.
type TransformCommand struct {
	Timestamp    time.Time              `json:"timestamp"`
	Author       dogma.Author           `json:"author"`
	Project      string                 `json:"project"`
	Repository   string                 `json:"repository"`
	BaseRevision revision.Revision      `json:"baseRevision"`
	Message      dogma.CommitMessage    `json:"commitMessage"`
	Path         string                 `json:"path"`
	Transform    func(any) (any, error) `json:"-"`
}

func (c *TransformCommand) Type() Type               { return TypeTransform }
func (c *TransformCommand) Target() (string, string) { return c.Project, c.Repository }

// ForcePushCommand wraps any command to bypass the read-only gate. It is the
// one authenticated override accepted while the server is read-only, so
// writability can always be restored and internal upkeep keeps flowing.
type ForcePushCommand struct {
	Wrapped Command
}

func (c *ForcePushCommand) Type() Type               { return TypeForcePush }
func (c *ForcePushCommand) Target() (string, string) { return c.Wrapped.Target() }

type forcePushWire struct {
	Command json.RawMessage `json:"command"`
}

func (c *ForcePushCommand) MarshalJSON() ([]byte, error) {
	inner, err := Marshal(c.Wrapped)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&forcePushWire{Command: inner})
}

func (c *ForcePushCommand) UnmarshalJSON(data []byte) error {
	var wire forcePushWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	cmd, err := Unmarshal(wire.Command)
	if err != nil {
		return err
	}
	c.Wrapped = cmd
	return nil
}

// PushResult is what a push command evaluates to.
type PushResult struct {
	Revision revision.Revision `json:"revision"`
	PushedAt time.Time         `json:"pushedAt"`
}

// Session is the wire form of an authenticated session, replicated so every
// replica accepts the same tokens.
type Session struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateSessionCommand struct {
	Timestamp time.Time `json:"timestamp"`
	Session   Session   `json:"session"`
}

func (c *CreateSessionCommand) Type() Type               { return TypeCreateSession }
func (c *CreateSessionCommand) Target() (string, string) { return "", "" }

type RemoveSessionCommand struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

func (c *RemoveSessionCommand) Type() Type               { return TypeRemoveSession }
func (c *RemoveSessionCommand) Target() (string, string) { return "", "" }

// UpdateServerStatusCommand flips the cluster-wide writability flag. Callers
// wrap it in a force push so an operator can always restore writes.
type UpdateServerStatusCommand struct {
	Timestamp time.Time `json:"timestamp"`
	Writable  bool      `json:"writable"`
}

func (c *UpdateServerStatusCommand) Type() Type               { return TypeUpdateServerStatus }
func (c *UpdateServerStatusCommand) Target() (string, string) { return "", "" }

// RotateRepositoryKeyCommand re-wraps the data key of one repository
// encrypted at rest.
type RotateRepositoryKeyCommand struct {
	Timestamp  time.Time    `json:"timestamp"`
	Author     dogma.Author `json:"author"`
	Project    string       `json:"project"`
	Repository string       `json:"repository"`
}

func (c *RotateRepositoryKeyCommand) Type() Type               { return TypeRotateRepositoryKey }
func (c *RotateRepositoryKeyCommand) Target() (string, string) { return c.Project, c.Repository }

// RotateMasterKeyCommand rotates the master key that wraps every repository
// data key.
type RotateMasterKeyCommand struct {
	Timestamp time.Time    `json:"timestamp"`
	Author    dogma.Author `json:"author"`
}

func (c *RotateMasterKeyCommand) Type() Type               { return TypeRotateMasterKey }
func (c *RotateMasterKeyCommand) Target() (string, string) { return "", "" }

type envelope struct {
	Type    Type            `json:"type"`
	Command json.RawMessage `json:"command"`
}

// Marshal encodes a command with its type tag for the replication log.
func Marshal(cmd Command) ([]byte, error) {
	if cmd.Type() == TypeTransform {
		return nil, fmt.Errorf("transform commands must be materialized before replication")
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&envelope{Type: cmd.Type(), Command: raw})
}

// Unmarshal decodes a replication log entry back into a typed command.
func Unmarshal(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	var cmd Command
	switch env.Type {
	case TypeCreateProject:
		cmd = new(CreateProjectCommand)
	case TypeRemoveProject:
		cmd = new(RemoveProjectCommand)
	case TypeUnremoveProject:
		cmd = new(UnremoveProjectCommand)
	case TypePurgeProject:
		cmd = new(PurgeProjectCommand)
	case TypeCreateRepository:
		cmd = new(CreateRepositoryCommand)
	case TypeRemoveRepository:
		cmd = new(RemoveRepositoryCommand)
	case TypeUnremoveRepository:
		cmd = new(UnremoveRepositoryCommand)
	case TypePurgeRepository:
		cmd = new(PurgeRepositoryCommand)
	case TypePush, TypeNormalizingPush:
		p := new(PushCommand)
		p.Normalizing = env.Type == TypeNormalizingPush
		cmd = p
	case TypeForcePush:
		cmd = new(ForcePushCommand)
	case TypeCreateSession:
		cmd = new(CreateSessionCommand)
	case TypeRemoveSession:
		cmd = new(RemoveSessionCommand)
	case TypeUpdateServerStatus:
		cmd = new(UpdateServerStatusCommand)
	case TypeRotateRepositoryKey:
		cmd = new(RotateRepositoryKeyCommand)
	case TypeRotateMasterKey:
		cmd = new(RotateMasterKeyCommand)
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}
	if err := json.Unmarshal(env.Command, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}
