package jwtutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, "session-1")
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.SessionKey)
}

func TestParse_Rejects(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, "session-1")
	require.NoError(t, err)
	_, err = ParseToken("other", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := GenerateToken("secret", -time.Minute, "session-1")
	require.NoError(t, err)
	_, err = ParseToken("secret", expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken("secret", "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
