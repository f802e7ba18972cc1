package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	parts := strings.Split(hash, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "120000", parts[0])
	assert.Len(t, parts[1], 32)
	assert.Len(t, parts[2], 128)

	other, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts must differ")
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("s3cret-pass", hash))
	assert.False(t, VerifyPassword("wrong", hash))
	assert.False(t, VerifyPassword("s3cret-pass", ""))
	assert.False(t, VerifyPassword("s3cret-pass", "abc:def"))
	assert.False(t, VerifyPassword("s3cret-pass", "0:salt:00"))
	assert.False(t, VerifyPassword("s3cret-pass", "1000:salt:zz"))
}
