package replication

import (
	"net"
	"testing"

	"github.com/flonle/diyredis/app/diyredis/resp3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrimary plays the primary's half of the handshake over ln,
// replying to each step and finishing with a FULLRESYNC and an RDB
// bulk transfer carrying payload.
func fakePrimary(t *testing.T, ln net.Listener, payload []byte) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	reader := resp3.NewReader(conn)
	enc := resp3.Encoder{}

	for i := 0; i < 3; i++ {
		if _, err := reader.ReadCommand(); err != nil {
			t.Errorf("reading handshake step %d: %v", i, err)
			return
		}
		enc.Reset()
		enc.WriteSimpleString("OK")
		conn.Write(enc.Buf)
	}

	if _, err := reader.ReadCommand(); err != nil {
		t.Errorf("reading PSYNC: %v", err)
		return
	}
	enc.Reset()
	enc.WriteSimpleString("FULLRESYNC abc123 0")
	enc.WriteRDBBulk(payload)
	conn.Write(enc.Buf)
}

func TestHandshakeFullResync(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	rdbPayload := []byte("REDIS0011fakepayload")
	go fakePrimary(t, ln, rdbPayload)

	conn, reader, rdb, err := Handshake(ln.Addr().String(), "6380")
	require.NoError(t, err)
	defer conn.Close()
	assert.NotNil(t, reader)
	assert.Equal(t, rdbPayload, rdb)
}
