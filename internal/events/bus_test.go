package events

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_StampsIncreasingSeq(t *testing.T) {
	rec := NewRecorder()
	bus := NewBus(RoleTop, WithContextName("index.html"))
	bus.Subscribe(rec)

	bus.Logf(CategoryInfo, "first")
	bus.Progress(1, 2)
	bus.ItemChanged(ItemUpdate{Index: 0, Kind: "script", Locator: "a.js", State: "loaded"})

	got := rec.Events()
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, int64(2), got[1].Seq)
	assert.Equal(t, int64(3), got[2].Seq)
	for _, e := range got {
		assert.Equal(t, RoleTop, e.Role)
		assert.Equal(t, "index.html", e.Context)
		assert.False(t, e.Time.IsZero())
	}
	assert.Equal(t, TypeProgress, got[1].Type)
	assert.Equal(t, 1, got[1].Loaded)
	assert.Equal(t, 2, got[1].Total)
	require.NotNil(t, got[2].Item)
	assert.Equal(t, "loaded", got[2].Item.State)
}

func TestBus_SharedClockOrdersAcrossContexts(t *testing.T) {
	clock := NewClock()
	rec := NewRecorder()
	top := NewBus(RoleTop, WithClock(clock))
	child := NewBus(RoleChild, WithClock(clock))
	top.Subscribe(rec)
	child.Subscribe(rec)

	top.Logf(CategoryInfo, "a")
	child.Logf(CategoryInfo, "b")
	top.Logf(CategoryInfo, "c")

	got := rec.Events()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, RoleChild, got[1].Role)
}

func TestBus_LevelFiltersLogsOnly(t *testing.T) {
	rec := NewRecorder()
	bus := NewBus(RoleTop, WithLevel(LevelError))
	bus.Subscribe(rec)

	bus.Logf(CategoryInfo, "hidden")
	bus.Logf(CategoryCache, "hidden too")
	bus.Logf(CategoryDanger, "shown")
	bus.Progress(0, 1)
	bus.Fatal(errors.New("boom"), "a.js", "report")

	assert.Equal(t, []string{"shown"}, rec.Messages(CategoryDanger))
	assert.Empty(t, rec.Messages(CategoryInfo))
	assert.Len(t, rec.OfType(TypeProgress), 1)
	assert.Len(t, rec.OfType(TypeFatal), 1)
}

func TestBus_MirrorsToSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := NewBus(RoleChild, WithLogger(logger), WithLevel(LevelNone))

	bus.Logf(CategoryWarning, "size %d", 42)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="size 42"`)
	assert.Contains(t, out, "role=child")
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Logf(CategoryInfo, "x")
		bus.Progress(1, 1)
		bus.Fatal(errors.New("x"), "", "")
		bus.Subscribe(NewRecorder())
	})
	assert.Equal(t, Role(""), bus.Role())
}

func TestBus_ConcurrentPublish(t *testing.T) {
	rec := NewRecorder()
	bus := NewBus(RoleTop, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	bus.Subscribe(rec)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Logf(CategoryRequest, "req")
		}()
	}
	wg.Wait()

	got := rec.Events()
	require.Len(t, got, 20)
	seen := make(map[int64]bool)
	for _, e := range got {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"error", LevelError, false},
		{"none", LevelNone, false},
		{"verbose", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_Allows(t *testing.T) {
	assert.True(t, LevelDebug.Allows(CategoryCache))
	assert.False(t, LevelInfo.Allows(CategoryCache))
	assert.True(t, LevelInfo.Allows(CategoryWarning))
	assert.False(t, LevelError.Allows(CategoryWarning))
	assert.False(t, LevelNone.Allows(CategoryDanger))
}

func TestEvent_String(t *testing.T) {
	e := Event{Seq: 7, Role: RoleTop, Type: TypeLog, Category: CategoryCache, Message: "hit"}
	assert.Equal(t, "#7 [top] cache: hit", e.String())

	p := Event{Seq: 8, Role: RoleChild, Type: TypeProgress, Loaded: 1, Total: 3}
	assert.Equal(t, "#8 [child] progress 1/3", p.String())
}
