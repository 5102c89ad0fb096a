package command

import (
	"testing"
	"time"

	"github.com/antgroup/dogma/modules/revision"
	"github.com/antgroup/dogma/pkg/dogma"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1700000000000).UTC()
	author := dogma.Author{Name: "alice", Email: "alice@localhost"}

	cmds := []Command{
		&CreateProjectCommand{Timestamp: ts, Author: author, Project: "foo"},
		&RemoveRepositoryCommand{Timestamp: ts, Author: author, Project: "foo", Repository: "bar"},
		&PushCommand{
			Timestamp:    ts,
			Author:       author,
			Project:      "foo",
			Repository:   "bar",
			BaseRevision: revision.Head,
			Message:      dogma.CommitMessage{Summary: "add a.json"},
			Changes:      []dogma.Change{dogma.NewUpsertJSON("/a.json", map[string]any{"a": 1})},
			Normalizing:  true,
		},
		&CreateSessionCommand{Timestamp: ts, Session: Session{ID: "s1", Principal: "alice"}},
		&UpdateServerStatusCommand{Timestamp: ts, Writable: false},
		&RotateRepositoryKeyCommand{Timestamp: ts, Author: author, Project: "foo", Repository: "bar"},
		&RotateMasterKeyCommand{Timestamp: ts, Author: author},
		&ForcePushCommand{Wrapped: &RemoveProjectCommand{Timestamp: ts, Author: author, Project: "foo"}},
	}
	for _, cmd := range cmds {
		data, err := Marshal(cmd)
		require.NoError(t, err)
		got, err := Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, cmd.Type(), got.Type())
		p1, r1 := cmd.Target()
		p2, r2 := got.Target()
		assert.Equal(t, p1, p2)
		assert.Equal(t, r1, r2)
	}
}

func TestPushTypeFlags(t *testing.T) {
	assert.Equal(t, TypePush, (&PushCommand{}).Type())
	assert.Equal(t, TypeNormalizingPush, (&PushCommand{Normalizing: true}).Type())
}

func TestForcePushWrapsAnyCommand(t *testing.T) {
	cmd := &ForcePushCommand{Wrapped: &UpdateServerStatusCommand{Timestamp: time.UnixMilli(1700000000000).UTC(), Writable: true}}
	assert.Equal(t, TypeForcePush, cmd.Type())

	data, err := Marshal(cmd)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	fp := got.(*ForcePushCommand)
	status := fp.Wrapped.(*UpdateServerStatusCommand)
	assert.True(t, status.Writable)
}

func TestForcePushPreservesPushKind(t *testing.T) {
	cmd := &ForcePushCommand{Wrapped: &PushCommand{Project: "foo", Repository: "bar", Normalizing: true}}
	p, r := cmd.Target()
	assert.Equal(t, "foo", p)
	assert.Equal(t, "bar", r)

	data, err := Marshal(cmd)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	push := got.(*ForcePushCommand).Wrapped.(*PushCommand)
	assert.True(t, push.Normalizing)
}

func TestTransformIsNotReplicable(t *testing.T) {
	_, err := Marshal(&TransformCommand{Project: "foo", Repository: "bar", Path: "/a.json"})
	assert.Error(t, err)
	// Wrapping does not smuggle it past the check either.
	_, err = Marshal(&ForcePushCommand{Wrapped: &TransformCommand{}})
	assert.Error(t, err)
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"NO_SUCH_COMMAND","command":{}}`))
	assert.Error(t, err)
}
