package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAdminPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p, err := GenerateAdminPassword()
		require.NoError(t, err)
		assert.Len(t, p, adminPasswordLen)
		assert.True(t, strings.ContainsAny(p, upperLetters), p)
		assert.True(t, strings.ContainsAny(p, lowerLetters), p)
		assert.True(t, strings.ContainsAny(p, digits), p)
		assert.True(t, strings.ContainsAny(p, symbols), p)
		assert.False(t, strings.ContainsAny(p, "O0Il1"), p)
		seen[p] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)

	hash, err := HashPassword("hemligt")
	require.NoError(t, err)
	assert.NotEqual(t, "hemligt", hash)
	assert.True(t, strings.HasPrefix(hash, "$2"))
}
