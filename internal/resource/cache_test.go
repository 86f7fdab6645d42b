package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"script", KindScript, false},
		{"STYLE", KindStyle, false},
		{" script ", KindScript, false},
		{"scirpt", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Kind: KindStyle, Locator: "/css/site.css"}
	assert.Equal(t, "style:/css/site.css", k.String())
}

func TestCache_PutIsWriteOnce(t *testing.T) {
	c := NewCache()
	key := Key{Kind: KindScript, Locator: "/a.js"}

	assert.True(t, c.Put(key, Inline("first")))
	assert.False(t, c.Put(key, Inline("second")), "existing entry must not be replaced")

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "first", got.Text)
	assert.Equal(t, 1, c.Len())
}

func TestCache_KindIsPartOfKey(t *testing.T) {
	c := NewCache()
	c.Put(Key{Kind: KindScript, Locator: "/x"}, Inline("js"))

	assert.False(t, c.Has(Key{Kind: KindStyle, Locator: "/x"}))
	assert.True(t, c.Has(Key{Kind: KindScript, Locator: "/x"}))
}

func TestCache_KeysSortedAndClear(t *testing.T) {
	c := NewCache()
	c.Put(Key{Kind: KindStyle, Locator: "/b.css"}, Inline("b"))
	c.Put(Key{Kind: KindScript, Locator: "/a.js"}, Inline("a"))

	keys := c.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, "script:/a.js", keys[0].String())
	assert.Equal(t, "style:/b.css", keys[1].String())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
