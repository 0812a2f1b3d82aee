package diyredis

import (
	"testing"

	"github.com/flonle/diyredis/app/diyredis/keyspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpAndLoadRdbBytesRoundTrip(t *testing.T) {
	ks := keyspace.New(keyspace.SystemClock{})
	ks.Set("foo", "bar", 0)
	ks.Set("baz", "quux", 0)

	payload := DumpRDB(ks)

	loaded := keyspace.New(keyspace.SystemClock{})
	require.NoError(t, LoadRdbBytes(payload, loaded))

	val, ok, err := loaded.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", val)

	val, ok, err = loaded.Get("baz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "quux", val)
}

func TestDumpAndLoadRdbBytesWithExpiry(t *testing.T) {
	ks := keyspace.New(keyspace.SystemClock{})
	ks.Set("foo", "bar", 99999999999999)

	payload := DumpRDB(ks)

	loaded := keyspace.New(keyspace.SystemClock{})
	require.NoError(t, LoadRdbBytes(payload, loaded))

	val, ok, err := loaded.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", val)
}

func TestLoadRdbBytesRejectsBadMagic(t *testing.T) {
	ks := keyspace.New(keyspace.SystemClock{})
	err := LoadRdbBytes([]byte("NOTANRDB!"), ks)
	assert.Error(t, err)
}

func TestLoadRdbRejectsNonZeroDB(t *testing.T) {
	ks := keyspace.New(keyspace.SystemClock{})
	payload := DumpRDB(ks)
	// flip the DB selector's length-encoded id from 0 to 1
	for i, b := range payload {
		if b == opCodeSelectDB {
			payload[i+1] = 1
			break
		}
	}
	err := LoadRdbBytes(payload, ks)
	assert.Error(t, err)
}
