package gearapi

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis"
)

// NewRedisClient accepts either a redis:// url or a comma separated list of
// cluster node addresses.
func NewRedisClient(cfg RedisConfig) (redis.UniversalClient, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis address must be provided")
	}

	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		return redis.NewClient(opts), nil
	}

	parts := strings.Split(addr, ",")
	if len(parts) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{Addrs: parts, PoolSize: cfg.PoolSize}), nil
	}
	return redis.NewClient(&redis.Options{Addr: parts[0], PoolSize: cfg.PoolSize}), nil
}

// RedisPubSub publishes on and subscribes to redis channels through a shared client.
type RedisPubSub struct {
	client redis.UniversalClient

	mu     sync.Mutex
	pubsub *redis.PubSub

	ch        chan *PubSubMessage
	done      chan struct{}
	closeOnce sync.Once
}

func NewRedisPubSub(client redis.UniversalClient) *RedisPubSub {
	return &RedisPubSub{
		client: client,
		ch:     make(chan *PubSubMessage, 64),
		done:   make(chan struct{}),
	}
}

func (r *RedisPubSub) Subscribe(channels ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return r.pubsub.Subscribe(channels...)
	}

	pubsub := r.client.Subscribe(channels...)
	// wait for the subscription confirmation before reporting success
	if _, err := pubsub.Receive(); err != nil {
		_ = pubsub.Close()
		return err
	}
	r.pubsub = pubsub

	go func() {
		defer close(r.ch)
		for msg := range pubsub.Channel() {
			pubsubMsg := &PubSubMessage{
				Channel: msg.Channel,
				Payload: []byte(msg.Payload),
			}
			select {
			case r.ch <- pubsubMsg:
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

func (r *RedisPubSub) Channel() <-chan *PubSubMessage {
	return r.ch
}

func (r *RedisPubSub) Publish(channel string, data []byte) error {
	return r.client.Publish(channel, data).Err()
}

// Close ends the subscription. The client is owned by the caller.
func (r *RedisPubSub) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
	})
	return err
}

// RedisCache stores encoded values as plain redis strings.
type RedisCache struct {
	client redis.UniversalClient
	codec  MessageCodec
}

func NewRedisCache(client redis.UniversalClient, codec MessageCodec) *RedisCache {
	return &RedisCache{client: client, codec: codec}
}

func (c *RedisCache) Get(key string, v interface{}) (bool, error) {
	data, err := c.client.Get(key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := c.codec.Decode(data, v); err != nil {
		return false, &SerializationError{Err: err}
	}
	return true, nil
}

func (c *RedisCache) Set(key string, v interface{}, ttl time.Duration) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		return &SerializationError{Err: err}
	}
	return c.client.Set(key, data, ttl).Err()
}

func (c *RedisCache) Delete(key string) error {
	return c.client.Del(key).Err()
}
