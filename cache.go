package gearapi

import (
	"fmt"
	"sync"
	"time"
)

const (
	sessionTokenTTL = 7 * 24 * time.Hour
	accessTokenTTL  = 7 * 24 * time.Hour
	userGuildsTTL   = 180 * time.Second
)

// Cache is a flat key-value store. Values are stored encoded, a zero ttl keeps
// the value until it is deleted.
type Cache interface {
	// Get decodes the value under key into v and reports whether it existed.
	Get(key string, v interface{}) (bool, error)
	Set(key string, v interface{}, ttl time.Duration) error
	Delete(key string) error
}

func sessionTokenKey(token string) string {
	return "dash_token:" + token
}

func accessTokenKey(userID uint64) string {
	return fmt.Sprintf("access_token:%d", userID)
}

func userGuildsKey(userID uint64) string {
	return fmt.Sprintf("guilds:%d", userID)
}

func providerUserKey(accessToken string) string {
	return "userid:" + accessToken
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// InmemoryCache for development purpose
type InmemoryCache struct {
	mu    sync.Mutex
	codec MessageCodec
	db    map[string]cacheEntry
	now   func() time.Time
}

func NewInmemoryCache() *InmemoryCache {
	return &InmemoryCache{
		codec: NewDefaultCodec(),
		db:    make(map[string]cacheEntry),
		now:   time.Now,
	}
}

func (c *InmemoryCache) Get(key string, v interface{}) (bool, error) {
	c.mu.Lock()
	entry, found := c.db[key]
	if found && !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		delete(c.db, key)
		found = false
	}
	c.mu.Unlock()

	if !found {
		return false, nil
	}
	if err := c.codec.Decode(entry.data, v); err != nil {
		return false, &SerializationError{Err: err}
	}
	return true, nil
}

func (c *InmemoryCache) Set(key string, v interface{}, ttl time.Duration) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		return &SerializationError{Err: err}
	}

	entry := cacheEntry{data: data}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.db[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *InmemoryCache) Delete(key string) error {
	c.mu.Lock()
	delete(c.db, key)
	c.mu.Unlock()
	return nil
}
