package resource

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

type blob struct {
	kind Kind
	data string
}

// BlobStore holds out-of-band content for one origin.
//
// Every context of the origin shares the same store, the way same-origin
// frames can all dereference an object URL. Handles stay valid until revoked.
type BlobStore struct {
	origin string

	mu    sync.Mutex
	blobs map[Handle]blob
}

// NewBlobStore creates a store for origin.
func NewBlobStore(origin string) *BlobStore {
	return &BlobStore{
		origin: strings.TrimSuffix(origin, "/"),
		blobs:  make(map[Handle]blob),
	}
}

// Origin returns the origin the store belongs to.
func (s *BlobStore) Origin() string {
	return s.origin
}

// Create stores data and returns a fresh handle for it.
func (s *BlobStore) Create(kind Kind, data string) Handle {
	h := Handle(HandlePrefix + s.origin + "/" + uuid.Must(uuid.NewV7()).String())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[h] = blob{kind: kind, data: data}
	return h
}

// Lookup returns the content behind h.
func (s *BlobStore) Lookup(h Handle) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[h]
	return b.data, ok
}

// Revoke invalidates h. Revoking an unknown handle is a no-op.
func (s *BlobStore) Revoke(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, h)
}

// Len returns the number of live handles.
func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// HandleSet tracks the handles one context is responsible for revoking.
type HandleSet struct {
	store *BlobStore

	mu      sync.Mutex
	handles map[Handle]struct{}
}

// NewHandleSet creates an empty set backed by store.
func NewHandleSet(store *BlobStore) *HandleSet {
	return &HandleSet{store: store, handles: make(map[Handle]struct{})}
}

// Store returns the backing blob store.
func (hs *HandleSet) Store() *BlobStore {
	return hs.store
}

// Mint creates a handle for data and tracks it.
func (hs *HandleSet) Mint(kind Kind, data string) Handle {
	h := hs.store.Create(kind, data)
	hs.Track(h)
	return h
}

// Track adds a handle received from another context.
func (hs *HandleSet) Track(h Handle) {
	if h == "" {
		return
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.handles[h] = struct{}{}
}

// Len returns the number of tracked handles.
func (hs *HandleSet) Len() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.handles)
}

// RevokeAll revokes every tracked handle and empties the set.
// Returns the number of handles revoked.
func (hs *HandleSet) RevokeAll() int {
	hs.mu.Lock()
	handles := hs.handles
	hs.handles = make(map[Handle]struct{})
	hs.mu.Unlock()

	for h := range handles {
		hs.store.Revoke(h)
	}
	return len(handles)
}
