package channel

import (
	"sync"
	"time"

	"github.com/roach88/rshare/internal/resource"
)

type result struct {
	msg Message
	err error
}

type call struct {
	key   resource.Key
	ch    chan result
	timer *time.Timer
}

// pendingTable correlates outstanding requests with their responses.
//
// A call is settled by whoever removes it from the table: a response, its
// expiry timer, or the caller giving up. Only the remover delivers, so a
// call is settled exactly once.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*call)}
}

// add registers id and arms its expiry.
func (p *pendingTable) add(id string, key resource.Key, after time.Duration) *call {
	c := &call{key: key, ch: make(chan result, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id] = c
	c.timer = time.AfterFunc(after, func() {
		p.settle(id, result{err: &ProtocolTimeoutError{Op: "request " + key.String(), After: after}})
	})
	return c
}

// settle delivers r to the call for id. Reports false if the call was
// already settled or never existed.
func (p *pendingTable) settle(id string, r result) bool {
	c, ok := p.remove(id)
	if !ok {
		return false
	}
	c.ch <- r
	return true
}

// remove takes the call out of the table and stops its timer.
func (p *pendingTable) remove(id string) (*call, bool) {
	p.mu.Lock()
	c, ok := p.calls[id]
	delete(p.calls, id)
	p.mu.Unlock()

	if ok {
		c.timer.Stop()
	}
	return c, ok
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
