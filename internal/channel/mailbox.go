package channel

import (
	"context"
	"sync"
)

// Envelope is a delivered message plus what the receiver knows about the
// sender.
type Envelope struct {
	Message Message
	// Origin is the sender's origin, set by the transport.
	Origin string
	// From is the sender's mailbox, used to reply.
	From *Mailbox
}

// Mailbox is a context's inbox: an unbounded thread-safe FIFO.
//
// Any goroutine may post into a mailbox; exactly one dispatch loop reads it.
// The signal channel (buffered, size 1) coalesces wake-ups so the reader can
// wait with select alongside ctx.Done().
type Mailbox struct {
	origin string
	name   string

	mu        sync.Mutex
	envelopes []Envelope
	closed    bool
	signal    chan struct{}
}

// NewMailbox creates an empty mailbox for a context of origin.
func NewMailbox(origin, name string) *Mailbox {
	return &Mailbox{
		origin:    origin,
		name:      name,
		envelopes: make([]Envelope, 0, 16),
		signal:    make(chan struct{}, 1),
	}
}

// Origin returns the owning context's origin.
func (m *Mailbox) Origin() string { return m.origin }

// Name returns the owning context's name.
func (m *Mailbox) Name() string { return m.name }

// Post copies msg into to's inbox, stamped with this mailbox's origin.
func (m *Mailbox) Post(to *Mailbox, msg Message) error {
	if to == nil {
		return ErrNoPeer
	}
	cp, err := copyMessage(msg)
	if err != nil {
		return err
	}
	if !to.deliver(Envelope{Message: cp, Origin: m.origin, From: m}) {
		return ErrMailboxClosed
	}
	return nil
}

func (m *Mailbox) deliver(e Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.envelopes = append(m.envelopes, e)

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// TryReceive dequeues without blocking.
func (m *Mailbox) TryReceive() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.envelopes) == 0 {
		return Envelope{}, false
	}
	e := m.envelopes[0]
	m.envelopes[0] = Envelope{}
	if len(m.envelopes) == 1 {
		m.envelopes = m.envelopes[:0]
	} else {
		m.envelopes = m.envelopes[1:]
	}
	return e, true
}

// Receive blocks until an envelope arrives, the mailbox is closed and
// drained (ErrMailboxClosed), or ctx is done.
func (m *Mailbox) Receive(ctx context.Context) (Envelope, error) {
	for {
		if e, ok := m.TryReceive(); ok {
			return e, nil
		}

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return Envelope{}, ErrMailboxClosed
		}

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-m.signal:
		}
	}
}

// Len returns the number of undelivered envelopes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envelopes)
}

// Close rejects further posts and wakes the reader.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}
