package gearapi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPendingCalls_ResolveOnce(t *testing.T) {
	p := newPendingCalls()
	id := uuid.New()
	slot := p.register(id)
	assert.Equal(t, 1, p.len())

	reply := &Reply{ID: id, Data: ReplyData{Kind: ReplyBlank}}
	assert.True(t, p.resolve(reply))
	assert.Equal(t, 0, p.len())
	assert.Same(t, reply, <-slot)

	// a duplicate reply finds no waiter
	assert.False(t, p.resolve(reply))
}

func TestPendingCalls_UnknownAndRemoved(t *testing.T) {
	p := newPendingCalls()
	assert.False(t, p.resolve(&Reply{ID: uuid.New()}))

	id := uuid.New()
	p.register(id)
	p.remove(id)
	assert.Equal(t, 0, p.len())
	assert.False(t, p.resolve(&Reply{ID: id}))

	// removing twice is harmless
	p.remove(id)
}

func TestPendingCalls_DistinctSlots(t *testing.T) {
	p := newPendingCalls()
	a, b := uuid.New(), uuid.New()
	slotA := p.register(a)
	slotB := p.register(b)

	assert.True(t, p.resolve(&Reply{ID: b}))
	assert.True(t, p.resolve(&Reply{ID: a}))
	assert.Equal(t, a, (<-slotA).ID)
	assert.Equal(t, b, (<-slotB).ID)
}
