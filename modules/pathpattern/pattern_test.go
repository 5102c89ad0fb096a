package pathpattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll(t *testing.T) {
	for _, path := range []string{"/a.json", "/a/b.json", "/a/b/c/d.txt"} {
		assert.True(t, All.Matches(path), path)
	}
}

func TestEmptyMatchesNothing(t *testing.T) {
	p, err := Compile("")
	require.NoError(t, err)
	assert.False(t, p.Matches("/a.json"))
	assert.False(t, p.Matches("/"))
}

func TestSingleSegmentStar(t *testing.T) {
	p := MustCompile("/foo/*.json")
	assert.True(t, p.Matches("/foo/a.json"))
	assert.True(t, p.Matches("/foo/.json"))
	assert.False(t, p.Matches("/foo/bar/a.json"))
	assert.False(t, p.Matches("/foo/a.yaml"))
}

func TestDoubleStar(t *testing.T) {
	p := MustCompile("/foo/**/a.json")
	assert.True(t, p.Matches("/foo/a.json"))
	assert.True(t, p.Matches("/foo/b/a.json"))
	assert.True(t, p.Matches("/foo/b/c/a.json"))
	assert.False(t, p.Matches("/bar/a.json"))

	p = MustCompile("/foo/**")
	assert.True(t, p.Matches("/foo/a"))
	assert.True(t, p.Matches("/foo/b/c"))
	assert.False(t, p.Matches("/foobar"))
}

func TestAlternatives(t *testing.T) {
	p := MustCompile("/a.json,/b/**")
	assert.True(t, p.Matches("/a.json"))
	assert.True(t, p.Matches("/b/c.json"))
	assert.False(t, p.Matches("/c.json"))
}

func TestRelativePattern(t *testing.T) {
	// A pattern without a leading slash matches at any depth.
	p := MustCompile("*.json")
	assert.True(t, p.Matches("/a.json"))
	assert.True(t, p.Matches("/x/y/a.json"))
	assert.False(t, p.Matches("/a.txt"))
}

func TestMatchesAny(t *testing.T) {
	p := MustCompile("/even.json")
	assert.True(t, p.MatchesAny([]string{"/odd.json", "/even.json"}))
	assert.False(t, p.MatchesAny([]string{"/odd.json"}))
	assert.False(t, p.MatchesAny(nil))
}
