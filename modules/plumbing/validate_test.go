package plumbing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"foo", "Foo-1", "a.b_c+d", "0x"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "-lead", ".hidden", "sp ace", "a/b", "한글"} {
		err := ValidateName(name)
		require.Error(t, err, name)
		assert.True(t, IsErrBadName(err))
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/a.json":     "/a.json",
		"a.json":      "/a.json",
		"/":           "/",
		"/a/b/c.yaml": "/a/b/c.yaml",
	}
	for in, want := range cases {
		got, err := NormalizePath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", "/a//b", "/a/./b", "/a/../b", "/a/", "/a\\b"} {
		_, err := NormalizePath(in)
		require.Error(t, err, in)
		assert.True(t, IsErrBadPath(err))
	}
}

func TestParentDirs(t *testing.T) {
	assert.Equal(t, []string{"/a", "/a/b"}, ParentDirs("/a/b/c.json"))
	assert.Empty(t, ParentDirs("/c.json"))
}
