package channel

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/resource"
)

type connState int

const (
	stateHandshaking connState = iota
	stateConnected
	stateDisconnected
)

// ClientOptions configures a child-side Client.
type ClientOptions struct {
	// Mailbox is the child's own inbox.
	Mailbox *Mailbox
	// Parent is the top context's inbox.
	Parent *Mailbox
	// Handles tracks handles this child must revoke on teardown.
	Handles *resource.HandleSet
	IDs     IDGenerator

	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	// InlineLimit is the largest payload sent inline; larger ones go as handles.
	InlineLimit int

	Bus *events.Bus
}

// Client is the child side of the protocol.
type Client struct {
	mb      *Mailbox
	parent  *Mailbox
	handles *resource.HandleSet
	ids     IDGenerator
	opts    ClientOptions
	bus     *events.Bus
	pending *pendingTable

	mu      sync.Mutex
	state   connState
	verdict chan struct{} // closed once the handshake is decided
}

// NewClient creates a client in the handshaking state.
func NewClient(opts ClientOptions) *Client {
	ids := opts.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 100 * time.Millisecond
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Client{
		mb:      opts.Mailbox,
		parent:  opts.Parent,
		handles: opts.Handles,
		ids:     ids,
		opts:    opts,
		bus:     opts.Bus,
		pending: newPendingTable(),
		verdict: make(chan struct{}),
	}
}

// Serve dispatches pongs and responses until ctx is done or the mailbox closes.
func (c *Client) Serve(ctx context.Context) error {
	return serve(ctx, c.mb, c.bus, c.handle)
}

func (c *Client) handle(env Envelope) {
	msg := env.Message
	switch msg.Type {
	case TypePong:
		c.decide(stateConnected)
	case TypeResponse:
		if !c.pending.settle(msg.MessageID, result{msg: msg}) {
			c.bus.Logf(events.CategoryRequest, "late response %s ignored", msg.MessageID)
		}
	default:
		c.bus.Logf(events.CategoryInfo, "child ignored %s message", msg.Type)
	}
}

// decide records the handshake verdict. Only the first verdict counts: a pong
// arriving after the window closed does not reconnect.
func (c *Client) decide(s connState) connState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateHandshaking {
		c.state = s
		close(c.verdict)
		if s == stateConnected {
			c.bus.Logf(events.CategorySuccess, "connected to parent")
		}
	}
	return c.state
}

// Handshake pings the parent immediately and then every PingInterval until a
// pong arrives or HandshakeTimeout passes. Serve must be running.
func (c *Client) Handshake(ctx context.Context) error {
	if c.parent == nil {
		c.decide(stateDisconnected)
		return ErrNoPeer
	}

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.opts.HandshakeTimeout)
	defer deadline.Stop()

	c.ping()
	for {
		select {
		case <-c.verdict:
			if c.Connected() {
				return nil
			}
			return ErrConnectivityLost
		case <-ticker.C:
			c.ping()
		case <-deadline.C:
			if c.decide(stateDisconnected) == stateConnected {
				return nil
			}
			c.bus.Logf(events.CategoryWarning, "no pong from parent within %s, continuing without sharing", c.opts.HandshakeTimeout)
			return ErrConnectivityLost
		case <-ctx.Done():
			c.decide(stateDisconnected)
			return ctx.Err()
		}
	}
}

func (c *Client) ping() {
	if err := c.mb.Post(c.parent, Message{Type: TypePing, Origin: c.mb.Origin()}); err != nil {
		c.bus.Logf(events.CategoryWarning, "ping failed: %v", err)
	}
}

// Connected reports whether the handshake succeeded.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// Decided is closed once the handshake has a verdict.
func (c *Client) Decided() <-chan struct{} {
	return c.verdict
}

// Lookup asks the parent for key.
//
// It waits for the handshake verdict and fails immediately with
// ErrConnectivityLost when disconnected. The parent answers from its cache
// only, so a miss is a RemoteMissError.
func (c *Client) Lookup(ctx context.Context, key resource.Key) (resource.Content, error) {
	select {
	case <-c.verdict:
	case <-ctx.Done():
		return resource.Content{}, ctx.Err()
	}
	if !c.Connected() {
		return resource.Content{}, ErrConnectivityLost
	}

	id := c.ids.Generate()
	pc := c.pending.add(id, key, c.opts.RequestTimeout)

	c.bus.Logf(events.CategoryRequest, "asking parent for %s (%s)", key, id)
	err := c.mb.Post(c.parent, Message{
		Type:         TypeRequest,
		Origin:       c.mb.Origin(),
		MessageID:    id,
		ResourceType: string(key.Kind),
		URL:          key.Locator,
	})
	if err != nil {
		c.pending.remove(id)
		return resource.Content{}, err
	}

	var r result
	select {
	case r = <-pc.ch:
	case <-ctx.Done():
		if _, ok := c.pending.remove(id); ok {
			return resource.Content{}, ctx.Err()
		}
		// Settled concurrently with cancellation.
		r = <-pc.ch
	}

	if r.err != nil {
		return resource.Content{}, r.err
	}
	if !r.msg.Succeeded() {
		return resource.Content{}, &RemoteMissError{Key: key, Reason: r.msg.Error}
	}

	v := r.msg.Payload()
	if v.IsHandle() && c.handles != nil {
		c.handles.Track(v.Handle)
	}
	return v, nil
}

// Publish shares text fetched by this child with the parent. It is a no-op
// unless connected. Payloads above InlineLimit travel as a handle whose
// ownership passes to the parent.
func (c *Client) Publish(key resource.Key, text string) {
	if !c.Connected() {
		return
	}

	msg := Message{
		Type:         TypeCacheUpdate,
		Origin:       c.mb.Origin(),
		ResourceType: string(key.Kind),
		URL:          key.Locator,
		ContentType:  ContentDirect,
		Content:      text,
	}
	if c.opts.InlineLimit > 0 && len(text) > c.opts.InlineLimit && c.handles != nil {
		msg.ContentType = ContentBlob
		msg.Content = string(c.handles.Store().Create(key.Kind, text))
	}

	if err := c.mb.Post(c.parent, msg); err != nil {
		c.bus.Logf(events.CategoryWarning, "cache-update for %s not delivered: %v", key, err)
		return
	}
	c.bus.Logf(events.CategoryCache, "shared %s with parent (%s)", key, msg.ContentType)
}

// Pending returns the number of outstanding requests.
func (c *Client) Pending() int {
	return c.pending.len()
}
