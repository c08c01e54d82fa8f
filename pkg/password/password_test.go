package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndMatches(t *testing.T) {
	hash, err := Hash("room-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "room-secret", hash)
	assert.True(t, Matches(hash, "room-secret"))
	assert.False(t, Matches(hash, "wrong"))
}

func TestHash_RejectsOversizedPasscode(t *testing.T) {
	_, err := Hash(strings.Repeat("x", MaxLength+1))
	assert.ErrorIs(t, err, ErrTooLong)
}
