package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	first, err := GenerateAPIKey()
	require.NoError(t, err)
	second, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, IsAPIKey(first))
	assert.NotEqual(t, first, second, "keys must be random")
}

func TestIsAPIKey(t *testing.T) {
	tests := []struct {
		credential string
		want       bool
	}{
		{"ak_abc123", true},
		{"", false},
		{"ak_", false},
		{"AK_ABC123", false},
		{"eyJhbGciOiJIUzI1NiJ9.x.y", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsAPIKey(tt.credential), "credential %q", tt.credential)
	}
}

func TestVerifyAPIKey(t *testing.T) {
	apiKey, err := GenerateAPIKey()
	require.NoError(t, err)
	salt, err := NewSalt()
	require.NoError(t, err)
	hash, err := HashAPIKey(apiKey, salt)
	require.NoError(t, err)

	assert.True(t, VerifyAPIKey(apiKey, salt, hash))
	assert.False(t, VerifyAPIKey("ak_wrong", salt, hash))

	otherSalt, err := NewSalt()
	require.NoError(t, err)
	assert.False(t, VerifyAPIKey(apiKey, otherSalt, hash), "hash is bound to its salt")
}

func TestDeriveQueueKey(t *testing.T) {
	first, err := DeriveQueueKey("ak_some_key")
	require.NoError(t, err)
	again, err := DeriveQueueKey("ak_some_key")
	require.NoError(t, err)
	other, err := DeriveQueueKey("ak_other_key")
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.Equal(t, first, again, "derivation must be deterministic so reconnects can decrypt old items")
	assert.NotEqual(t, first, other)
}
