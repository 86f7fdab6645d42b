package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "http://app.test"

func TestMailbox_FIFO(t *testing.T) {
	a := NewMailbox(origin, "a")
	b := NewMailbox(origin, "b")

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, a.Post(b, Message{Type: TypePing, MessageID: id}))
	}
	assert.Equal(t, 3, b.Len())

	for _, want := range []string{"1", "2", "3"} {
		env, ok := b.TryReceive()
		require.True(t, ok)
		assert.Equal(t, want, env.Message.MessageID)
		assert.Equal(t, origin, env.Origin)
		assert.Same(t, a, env.From)
	}
	_, ok := b.TryReceive()
	assert.False(t, ok)
}

func TestMailbox_PostCopiesPayload(t *testing.T) {
	a := NewMailbox(origin, "a")
	b := NewMailbox(origin, "b")

	success := true
	msg := Message{Type: TypeResponse, Success: &success, Content: "x"}
	require.NoError(t, a.Post(b, msg))
	success = false

	env, ok := b.TryReceive()
	require.True(t, ok)
	require.NotNil(t, env.Message.Success)
	assert.True(t, *env.Message.Success, "receiver holds its own copy")
	assert.NotSame(t, msg.Success, env.Message.Success)
}

func TestMailbox_ReceiveBlocksUntilPost(t *testing.T) {
	a := NewMailbox(origin, "a")
	b := NewMailbox(origin, "b")

	got := make(chan Envelope, 1)
	go func() {
		env, err := b.Receive(context.Background())
		if err == nil {
			got <- env
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Post(b, Message{Type: TypePong}))

	select {
	case env := <-got:
		assert.Equal(t, TypePong, env.Message.Type)
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up")
	}
}

func TestMailbox_ReceiveHonoursContext(t *testing.T) {
	b := NewMailbox(origin, "b")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_Close(t *testing.T) {
	a := NewMailbox(origin, "a")
	b := NewMailbox(origin, "b")
	require.NoError(t, a.Post(b, Message{Type: TypePing}))

	b.Close()
	b.Close() // idempotent

	assert.ErrorIs(t, a.Post(b, Message{Type: TypePing}), ErrMailboxClosed)

	// Queued envelopes still drain after close.
	_, err := b.Receive(context.Background())
	require.NoError(t, err)
	_, err = b.Receive(context.Background())
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestMailbox_PostToNil(t *testing.T) {
	a := NewMailbox(origin, "a")
	assert.ErrorIs(t, a.Post(nil, Message{Type: TypePing}), ErrNoPeer)
}

func TestMailbox_ConcurrentPosters(t *testing.T) {
	b := NewMailbox(origin, "b")
	const posters = 10
	const each = 50

	var wg sync.WaitGroup
	for i := 0; i < posters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := NewMailbox(origin, "a")
			for j := 0; j < each; j++ {
				_ = a.Post(b, Message{Type: TypePing})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, posters*each, b.Len())
}

func TestMessage_WireNames(t *testing.T) {
	a := NewMailbox(origin, "a")
	b := NewMailbox(origin, "b")
	require.NoError(t, a.Post(b, Message{
		Type:         TypeCacheUpdate,
		ResourceType: "style",
		URL:          "a.css",
		ContentType:  ContentBlob,
		Content:      "blob:http://app.test/1",
	}))
	env, _ := b.TryReceive()
	key, err := env.Message.Key()
	require.NoError(t, err)
	assert.Equal(t, "style:a.css", key.String())
	assert.True(t, env.Message.Payload().IsHandle())

	_, err = Message{Type: TypeRequest, ResourceType: "image", URL: "x.png"}.Key()
	assert.Error(t, err)
	_, err = Message{Type: TypeRequest, ResourceType: "script"}.Key()
	assert.Error(t, err)
}
