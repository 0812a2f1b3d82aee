package diyredis

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/flonle/diyredis/app/diyredis/replication"
	"github.com/flonle/diyredis/app/diyredis/resp3"
	"github.com/rs/zerolog"
)

// Session is the per-connection state for one client. Its command
// handlers read from server (the keyspace, replication state, config)
// but never hold their own copy of it.
type Session struct {
	server *Server
	conn   net.Conn
	reader *resp3.Reader
	enc    resp3.Encoder
	log    zerolog.Logger
}

// HandleCommands is the connection's read-dispatch-reply loop. It
// returns when the peer closes, on a framing error (closing the
// connection, per the ProtocolError policy), or when the connection
// has been handed off to the replica fan-out path after PSYNC.
func (s *Session) HandleCommands() {
	defer s.conn.Close()
	s.reader = resp3.NewReader(s.conn)

	for {
		cmd, err := s.reader.ReadCommand()
		if err != nil {
			if errors.Is(err, resp3.ErrIncompleteInput) || errors.Is(err, io.EOF) {
				return
			}
			s.log.Info().Err(err).Msg("protocol error, closing connection")
			return
		}
		if len(cmd) == 0 {
			continue
		}

		handedOff := s.dispatch(cmd)
		if handedOff {
			return
		}
	}
}

// dispatch runs one command and writes its reply. It returns true when
// the connection has been handed off elsewhere (PSYNC registering a
// replica) and the read loop must stop.
func (s *Session) dispatch(cmd []string) (handedOff bool) {
	s.enc.Reset()
	switch strings.ToUpper(cmd[0]) {
	case "PING":
		s.doPING(cmd)
	case "ECHO":
		s.doECHO(cmd)
	case "SET":
		s.doSET(cmd)
	case "GET":
		s.doGET(cmd)
	case "TYPE":
		s.doTYPE(cmd)
	case "KEYS":
		s.doKEYS(cmd)
	case "CONFIG":
		s.doCONFIG(cmd)
	case "INFO":
		s.doINFO(cmd)
	case "REPLCONF":
		s.doREPLCONF(cmd)
	case "PSYNC":
		s.doPSYNC(cmd)
		return true
	case "WAIT":
		s.doWAIT(cmd)
	case "XADD":
		s.doXADD(cmd)
	case "XRANGE":
		s.doXRANGE(cmd)
	case "XREAD":
		s.doXREAD(cmd)
	default:
		s.enc.WriteError("ERR unknown command '" + cmd[0] + "'")
	}

	if len(s.enc.Buf) > 0 {
		s.conn.Write(s.enc.Buf)
	}
	return false
}

// propagateIfPrimary enqueues cmd for replica fan-out when this server
// is a primary; a replica never propagates its own apply-loop writes
// back out (those don't reach dispatch at all).
func (s *Session) propagateIfPrimary(cmd []string) {
	if s.server.Repl != nil && s.server.Repl.Role == replication.RolePrimary {
		s.server.Repl.Propagate(cmd)
	}
}
