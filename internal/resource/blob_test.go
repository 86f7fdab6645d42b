package resource

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStore_CreateLookupRevoke(t *testing.T) {
	s := NewBlobStore("http://example.test/")
	h := s.Create(KindScript, "console.log(1)")

	assert.True(t, strings.HasPrefix(string(h), "blob:http://example.test/"))
	assert.True(t, IsHandle(string(h)))

	text, ok := s.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, "console.log(1)", text)

	s.Revoke(h)
	_, ok = s.Lookup(h)
	assert.False(t, ok)
}

func TestBlobStore_HandlesAreUnique(t *testing.T) {
	s := NewBlobStore("http://example.test")
	seen := make(map[Handle]bool)
	for i := 0; i < 100; i++ {
		h := s.Create(KindStyle, "x")
		require.False(t, seen[h], "duplicate handle %s", h)
		seen[h] = true
	}
	assert.Equal(t, 100, s.Len())
}

func TestHandleSet_RevokeAllOnlyTouchesTracked(t *testing.T) {
	store := NewBlobStore("http://example.test")
	mine := NewHandleSet(store)

	own := mine.Mint(KindScript, "mine")
	received := store.Create(KindScript, "from parent")
	mine.Track(received)
	foreign := store.Create(KindScript, "someone else's")

	assert.Equal(t, 2, mine.Len())
	assert.Equal(t, 2, mine.RevokeAll())
	assert.Equal(t, 0, mine.Len())

	_, ok := store.Lookup(own)
	assert.False(t, ok)
	_, ok = store.Lookup(received)
	assert.False(t, ok)
	_, ok = store.Lookup(foreign)
	assert.True(t, ok, "untracked handles survive")
}

func TestContent_Resolve(t *testing.T) {
	store := NewBlobStore("http://example.test")

	text, err := Inline("abc").Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", text)

	h := store.Create(KindStyle, "body{}")
	text, err = ByHandle(h).Resolve(store)
	require.NoError(t, err)
	assert.Equal(t, "body{}", text)

	store.Revoke(h)
	_, err = ByHandle(h).Resolve(store)
	assert.Error(t, err)

	_, err = ByHandle(h).Resolve(nil)
	assert.Error(t, err)
}
