package replication

import (
	"fmt"
	"net"
	"strings"

	"github.com/flonle/diyredis/app/diyredis/resp3"
)

// Handshake performs the replica-initiated handshake against a primary
// at addr: PING, REPLCONF listening-port, REPLCONF capa psync2 capa
// psync2, PSYNC ? -1, then the one RDB bulk blob that follows. It
// returns the open connection, the *resp3.Reader buffered on top of
// it, and the raw RDB payload. The caller must keep reading the
// propagated command stream through this same Reader, not a fresh one
// wrapping the conn: bufio may already have buffered bytes past the
// RDB payload (a primary's first propagated command can arrive in the
// same TCP segment as the RDB transfer), and a fresh bufio.Reader over
// the raw conn would silently drop them.
func Handshake(addr string, listeningPort string) (net.Conn, *resp3.Reader, []byte, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, nil, err
	}

	reader := resp3.NewReader(conn)
	enc := resp3.Encoder{}

	send := func(args ...string) (resp3.Message, error) {
		enc.Reset()
		enc.WriteStrArr(args)
		if _, err := conn.Write(enc.Buf); err != nil {
			return resp3.Message{}, err
		}
		return reader.ReadMessage()
	}

	if _, err := send("PING"); err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("handshake PING: %w", err)
	}

	if _, err := send("REPLCONF", "listening-port", listeningPort); err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("handshake REPLCONF listening-port: %w", err)
	}

	if _, err := send("REPLCONF", "capa", "psync2", "capa", "psync2"); err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("handshake REPLCONF capa: %w", err)
	}

	fullresync, err := send("PSYNC", "?", "-1")
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("handshake PSYNC: %w", err)
	}
	if !strings.HasPrefix(fullresync.Str, "FULLRESYNC") {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("handshake PSYNC: unexpected reply %q", fullresync.Str)
	}

	rdb, err := reader.ReadRDBBulk()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("handshake RDB transfer: %w", err)
	}

	return conn, reader, rdb, nil
}
