package gearapi

import (
	"sync"

	"github.com/google/uuid"
)

// pendingCalls maps a call id to the slot its caller waits on. Each slot has
// room for exactly one reply and is removed from the table before delivery,
// so a reply is handed out at most once.
type pendingCalls struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]chan *Reply
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{
		waiters: make(map[uuid.UUID]chan *Reply),
	}
}

func (p *pendingCalls) register(id uuid.UUID) <-chan *Reply {
	slot := make(chan *Reply, 1)
	p.mu.Lock()
	p.waiters[id] = slot
	p.mu.Unlock()
	return slot
}

// resolve hands the reply to its waiter and reports whether one was pending.
func (p *pendingCalls) resolve(reply *Reply) bool {
	p.mu.Lock()
	slot, found := p.waiters[reply.ID]
	if found {
		delete(p.waiters, reply.ID)
	}
	p.mu.Unlock()

	if !found {
		return false
	}
	slot <- reply
	return true
}

func (p *pendingCalls) remove(id uuid.UUID) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
