package dogma

import (
	"testing"

	"github.com/antgroup/dogma/modules/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonEntry(t *testing.T, path string, raw string) *Entry {
	t.Helper()
	e, err := NewEntry(1, path, JSON, []byte(raw))
	require.NoError(t, err)
	return e
}

func TestIdentityQuery(t *testing.T) {
	e := jsonEntry(t, "/a.json", `[1,2,3]`)
	v, err := NewQuery("/a.json").Apply(e)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, v)
}

func TestJSONPathQuery(t *testing.T) {
	e := jsonEntry(t, "/a.json", `[1,2,3]`)
	v, err := NewJSONPathQuery("/a.json", "$[0]").Apply(e)
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)

	e = jsonEntry(t, "/b.json", `{"a":{"b":"c"}}`)
	v, err = NewJSONPathQuery("/b.json", "$.a.b").Apply(e)
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

func TestJSONPathChained(t *testing.T) {
	e := jsonEntry(t, "/a.json", `{"a":[{"b":1},{"b":2}]}`)
	v, err := NewJSONPathQuery("/a.json", "$.a", "$[1].b").Apply(e)
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

func TestJSONPathOnTextFails(t *testing.T) {
	e, err := NewEntry(1, "/a.txt", Text, []byte("hello\n"))
	require.NoError(t, err)
	_, err = NewJSONPathQuery("/a.txt", "$[0]").Apply(e)
	require.Error(t, err)
	assert.True(t, plumbing.IsErrQueryExecution(err))
}

func TestJSONPathMalformed(t *testing.T) {
	e := jsonEntry(t, "/a.json", `[1]`)
	_, err := NewJSONPathQuery("/a.json", "$[").Apply(e)
	assert.True(t, plumbing.IsErrQueryExecution(err))
}

func TestJSONPathNoMatch(t *testing.T) {
	e := jsonEntry(t, "/a.json", `{"a":1}`)
	_, err := NewJSONPathQuery("/a.json", "$.missing").Apply(e)
	assert.True(t, plumbing.IsErrQueryExecution(err))
}

func TestAsTextQuery(t *testing.T) {
	e := jsonEntry(t, "/a.json", `{"a":1}`)
	v, err := (&Query{Path: "/a.json", Type: AsText}).Apply(e)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)
}

func TestMerge(t *testing.T) {
	merged := Merge(
		map[string]any{"a": 1, "nested": map[string]any{"x": 1}},
		map[string]any{"b": 2, "nested": map[string]any{"y": 2}},
	)
	assert.Equal(t, map[string]any{
		"a":      1,
		"b":      2,
		"nested": map[string]any{"x": 1, "y": 2},
	}, merged)

	// Non-object overlay replaces.
	assert.Equal(t, "flat", Merge(map[string]any{"a": 1}, "flat"))
}
