package channel

import (
	"context"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/resource"
)

// ServerOptions configures the top-side Server.
type ServerOptions struct {
	Mailbox *Mailbox
	Cache   *resource.Cache
	// Handles tracks handles received through cache-update.
	Handles     *resource.HandleSet
	InlineLimit int
	Bus         *events.Bus
}

// Server answers child requests from the top context's cache.
type Server struct {
	mb      *Mailbox
	cache   *resource.Cache
	handles *resource.HandleSet
	limit   int
	bus     *events.Bus
}

// NewServer creates a server.
func NewServer(opts ServerOptions) *Server {
	return &Server{
		mb:      opts.Mailbox,
		cache:   opts.Cache,
		handles: opts.Handles,
		limit:   opts.InlineLimit,
		bus:     opts.Bus,
	}
}

// Serve dispatches child messages until ctx is done or the mailbox closes.
func (s *Server) Serve(ctx context.Context) error {
	return serve(ctx, s.mb, s.bus, s.handle)
}

func (s *Server) handle(env Envelope) {
	msg := env.Message
	switch msg.Type {
	case TypePing:
		s.reply(env, Message{Type: TypePong, Origin: s.mb.Origin()})
	case TypeRequest:
		s.reply(env, s.answer(msg))
	case TypeCacheUpdate:
		s.apply(msg)
	default:
		s.bus.Logf(events.CategoryInfo, "parent ignored %s message", msg.Type)
	}
}

func (s *Server) reply(env Envelope, msg Message) {
	if err := s.mb.Post(env.From, msg); err != nil {
		s.bus.Logf(events.CategoryWarning, "reply %s to %s failed: %v", msg.Type, env.From.Name(), err)
	}
}

func (s *Server) answer(req Message) Message {
	resp := Message{Type: TypeResponse, Origin: s.mb.Origin(), MessageID: req.MessageID, Success: boolPtr(false)}

	key, err := req.Key()
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	v, ok := s.cache.Get(key)
	if !ok {
		s.bus.Logf(events.CategoryCache, "child asked for %s: not cached", key)
		resp.Error = "not cached"
		return resp
	}
	text, err := v.Resolve(s.storeOrNil())
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	resp.Success = boolPtr(true)
	resp.ContentType = ContentDirect
	resp.Content = text
	if s.limit > 0 && len(text) > s.limit && s.handles != nil {
		resp.ContentType = ContentBlob
		resp.Content = string(s.handles.Store().Create(key.Kind, text))
	}
	s.bus.Logf(events.CategoryCache, "served %s to child (%s)", key, resp.ContentType)
	return resp
}

func (s *Server) apply(msg Message) {
	key, err := msg.Key()
	if err != nil {
		s.bus.Logf(events.CategoryWarning, "bad cache-update: %v", err)
		return
	}
	v := msg.Payload()
	if s.cache.Put(key, v) {
		if v.IsHandle() && s.handles != nil {
			s.handles.Track(v.Handle)
		}
		s.bus.Logf(events.CategoryCache, "child shared %s", key)
		return
	}
	// Already cached: the entry is immutable, drop the duplicate.
	if v.IsHandle() && s.handles != nil {
		s.handles.Store().Revoke(v.Handle)
	}
}

func (s *Server) storeOrNil() *resource.BlobStore {
	if s.handles == nil {
		return nil
	}
	return s.handles.Store()
}
