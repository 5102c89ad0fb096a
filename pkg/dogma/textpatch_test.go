package dogma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, oldText, newText string) {
	t.Helper()
	patch := MakeUnified(oldText, newText)
	got, err := ApplyUnified(oldText, patch)
	require.NoError(t, err, "patch:\n%s", patch)
	assert.Equal(t, newText, got, "patch:\n%s", patch)
}

func TestUnifiedRoundTrip(t *testing.T) {
	roundTrip(t, "a\nb\nc\n", "a\nB\nc\n")
	roundTrip(t, "a\nb\nc\n", "a\nc\n")
	roundTrip(t, "a\nc\n", "a\nb\nc\n")
	roundTrip(t, "", "a\n")
	roundTrip(t, "a\n", "")
	roundTrip(t, "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n", "1\n2\nX\n4\n5\n6\n7\n8\nY\n10\n")
}

func TestUnifiedEqualTextsEmptyPatch(t *testing.T) {
	assert.Empty(t, MakeUnified("same\n", "same\n"))
}

func TestApplyUnifiedContextMismatch(t *testing.T) {
	patch := MakeUnified("a\nb\nc\n", "a\nB\nc\n")
	_, err := ApplyUnified("totally\ndifferent\n", patch)
	require.Error(t, err)
}

func TestApplyUnifiedMalformedHeader(t *testing.T) {
	_, err := ApplyUnified("a\n", "--- a\n+++ b\n@@ garbage @@\n")
	require.Error(t, err)
}
