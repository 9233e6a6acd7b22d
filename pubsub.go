package gearapi

import (
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker closed")

type PubSubMessage struct {
	Channel string
	Payload []byte
}

type Publisher interface {
	Publish(channel string, data []byte) error
	Close() error
}

type Subscriber interface {
	// Subscribe returns once the subscription is active, so nothing published
	// afterwards can be missed.
	Subscribe(channels ...string) error
	Channel() <-chan *PubSubMessage
	Close() error
}

// MemoryBroker is an in-process broker for development and tests. Every
// subscriber created from it receives what is published on its channels.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   []*memorySubscriber
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

func (b *MemoryBroker) Publish(channel string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	log.Debugw("message published", "channel", channel, "size", len(data))
	for _, sub := range b.subs {
		sub.deliver(channel, data)
	}
	return nil
}

// Close stops the broker for publishers. Subscribers are closed individually.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Subscriber creates a new subscriber attached to this broker.
func (b *MemoryBroker) Subscriber() Subscriber {
	sub := &memorySubscriber{
		broker:   b,
		channels: make(map[string]bool),
		ch:       make(chan *PubSubMessage, 256),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

func (b *MemoryBroker) remove(sub *memorySubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

type memorySubscriber struct {
	broker    *MemoryBroker
	mu        sync.RWMutex
	channels  map[string]bool
	ch        chan *PubSubMessage
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscriber) Subscribe(channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		s.channels[c] = true
	}
	return nil
}

func (s *memorySubscriber) Channel() <-chan *PubSubMessage {
	return s.ch
}

func (s *memorySubscriber) deliver(channel string, data []byte) {
	s.mu.RLock()
	subscribed := s.channels[channel]
	s.mu.RUnlock()
	if !subscribed {
		return
	}

	payload := append([]byte(nil), data...)
	select {
	case s.ch <- &PubSubMessage{Channel: channel, Payload: payload}:
	case <-s.done:
	}
}

func (s *memorySubscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
	return nil
}
