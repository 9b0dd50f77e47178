package idutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	a := New()
	b := New()
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a.String()[:12], b.String()[:12], "timestamp prefix should be non-decreasing")
}

func TestStringParseRoundTrip(t *testing.T) {
	id := New()
	s := id.String()
	assert.Len(t, s, 32)

	got, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestZeroIsReservedDefaultBranch(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.Equal(t, "00000000000000000000000000000000"[:32], Zero.String())
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("short")
	assert.Error(t, err)

	_, err = Parse("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}
