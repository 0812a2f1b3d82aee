package keyspace

import (
	"testing"

	"github.com/flonle/diyredis/app/diyredis/streams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is the injected Clock collaborator, giving tests control
// over expiry and stream auto-ID timestamps without sleeping.
type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 { return c.ms }

func TestSetGet(t *testing.T) {
	ks := New(&fakeClock{ms: 1000})
	ks.Set("foo", "bar", 0)

	val, ok, err := ks.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", val)
}

func TestGetMissing(t *testing.T) {
	ks := New(&fakeClock{ms: 1000})
	_, ok, err := ks.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetExpiresLazily(t *testing.T) {
	clock := &fakeClock{ms: 1000}
	ks := New(clock)
	ks.Set("foo", "bar", 1500)

	clock.ms = 1400
	_, ok, err := ks.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.ms = 1600
	_, ok, err = ks.Get("foo")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "none", ks.TypeOf("foo"))
}

func TestGetWrongType(t *testing.T) {
	ks := New(&fakeClock{ms: 1000})
	_, err := ks.XAdd("s", "*", []streams.FieldValue{{Field: "a", Value: "1"}})
	require.NoError(t, err)

	_, _, err = ks.Get("s")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestTypeOf(t *testing.T) {
	ks := New(&fakeClock{ms: 1000})
	assert.Equal(t, "none", ks.TypeOf("missing"))

	ks.Set("str", "v", 0)
	assert.Equal(t, "string", ks.TypeOf("str"))

	_, err := ks.XAdd("strm", "*", []streams.FieldValue{{Field: "a", Value: "1"}})
	require.NoError(t, err)
	assert.Equal(t, "stream", ks.TypeOf("strm"))
}

func TestKeysMatchingStar(t *testing.T) {
	ks := New(&fakeClock{ms: 1000})
	ks.Set("a", "1", 0)
	ks.Set("b", "2", 0)
	assert.ElementsMatch(t, []string{"a", "b"}, ks.KeysMatchingStar())
}

func TestXAddAutoIDAndXRange(t *testing.T) {
	clock := &fakeClock{ms: 5000}
	ks := New(clock)

	id1, err := ks.XAdd("stream", "*", []streams.FieldValue{{Field: "temp", Value: "10"}})
	require.NoError(t, err)
	assert.Equal(t, "5000-0", id1.String())

	id2, err := ks.XAdd("stream", "*", []streams.FieldValue{{Field: "temp", Value: "20"}})
	require.NoError(t, err)
	assert.Equal(t, "5000-1", id2.String())

	entries, err := ks.XRange("stream", "-", "+")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "5000-0", entries[0].Key.String())
	assert.Equal(t, "5000-1", entries[1].Key.String())
}

func TestXAddRejectsNonIncreasingID(t *testing.T) {
	ks := New(&fakeClock{ms: 5000})
	_, err := ks.XAdd("stream", "5-5", []streams.FieldValue{{Field: "a", Value: "1"}})
	require.NoError(t, err)

	_, err = ks.XAdd("stream", "5-5", []streams.FieldValue{{Field: "a", Value: "2"}})
	assert.Error(t, err)
}

func TestXAddRejectsZeroZero(t *testing.T) {
	ks := New(&fakeClock{ms: 5000})
	_, err := ks.XAdd("stream", "0-0", []streams.FieldValue{{Field: "a", Value: "1"}})
	assert.Error(t, err)
}

func TestXReadExclusiveOfFrom(t *testing.T) {
	ks := New(&fakeClock{ms: 5000})
	_, err := ks.XAdd("stream", "5-1", []streams.FieldValue{{Field: "a", Value: "1"}})
	require.NoError(t, err)
	_, err = ks.XAdd("stream", "5-2", []streams.FieldValue{{Field: "a", Value: "2"}})
	require.NoError(t, err)

	entries, err := ks.XRead("stream", "5-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "5-2", entries[0].Key.String())
}

func TestSnapshotStringsOmitsStreams(t *testing.T) {
	ks := New(&fakeClock{ms: 1000})
	ks.Set("str", "v", 0)
	_, err := ks.XAdd("strm", "*", []streams.FieldValue{{Field: "a", Value: "1"}})
	require.NoError(t, err)

	snap := ks.SnapshotStrings()
	require.Len(t, snap, 1)
	assert.Equal(t, "str", snap[0].Key)
}
