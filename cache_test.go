package gearapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInmemoryCache(t *testing.T) {
	c := NewInmemoryCache()
	now := time.Unix(1600000000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(sessionTokenKey("abc"), uint64(42), time.Minute))
	require.NoError(t, c.Set(accessTokenKey(42), "oauth-token", 0))

	var userID uint64
	found, err := c.Get("dash_token:abc", &userID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(42), userID)

	now = now.Add(time.Minute)
	found, err = c.Get("dash_token:abc", &userID)
	require.NoError(t, err)
	assert.False(t, found)

	var token string
	found, err = c.Get("access_token:42", &token)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "oauth-token", token)

	require.NoError(t, c.Delete("access_token:42"))
	found, err = c.Get("access_token:42", &token)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInmemoryCache_DecodeError(t *testing.T) {
	c := NewInmemoryCache()
	require.NoError(t, c.Set("k", "text", 0))

	var n uint64
	_, err := c.Get("k", &n)
	var serr *SerializationError
	assert.ErrorAs(t, err, &serr)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "dash_token:abc", sessionTokenKey("abc"))
	assert.Equal(t, "access_token:42", accessTokenKey(42))
	assert.Equal(t, "guilds:42", userGuildsKey(42))
	assert.Equal(t, "userid:tok", providerUserKey("tok"))
}
