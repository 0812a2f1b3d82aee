package diyredis

import (
	"strconv"
	"strings"

	"github.com/flonle/diyredis/app/diyredis/replication"
	"github.com/flonle/diyredis/app/diyredis/streams"
)

func (s *Session) doPING(cmd []string) {
	s.enc.WriteSimpleString("PONG")
}

func (s *Session) doECHO(cmd []string) {
	if len(cmd) < 2 {
		s.enc.WriteError("ERR wrong number of arguments for 'echo' command")
		return
	}
	s.enc.WriteBulkStr(cmd[1])
}

// parseSetExpiry computes expiry_ms for a SET command's option tail:
// EX n -> now_ms + 1000n, PX n -> now_ms + n, otherwise 0. Option
// parsing is case-insensitive. Used both by the client-facing handler
// and by the replica's propagated-SET apply path, which must honour
// EX/PX the reference implementation drops.
func parseSetExpiry(cmd []string) int64 {
	for i := 3; i < len(cmd)-1; i++ {
		switch strings.ToUpper(cmd[i]) {
		case "EX":
			n, err := strconv.ParseInt(cmd[i+1], 10, 64)
			if err != nil {
				return 0
			}
			return nowMs() + n*1000
		case "PX":
			n, err := strconv.ParseInt(cmd[i+1], 10, 64)
			if err != nil {
				return 0
			}
			return nowMs() + n
		}
	}
	return 0
}

func (s *Session) doSET(cmd []string) {
	if len(cmd) < 3 {
		s.enc.WriteError("ERR wrong number of arguments for 'set' command")
		return
	}
	expiryMs := parseSetExpiry(cmd)
	s.server.Keyspace.Set(cmd[1], cmd[2], expiryMs)
	s.enc.WriteSimpleString("OK")
	s.propagateIfPrimary(cmd)
}

func (s *Session) doGET(cmd []string) {
	if len(cmd) < 2 {
		s.enc.WriteError("ERR wrong number of arguments for 'get' command")
		return
	}
	val, ok, err := s.server.Keyspace.Get(cmd[1])
	if err != nil {
		s.enc.WriteError(err.Error())
		return
	}
	if !ok {
		s.enc.WriteNullBulk()
		return
	}
	s.enc.WriteBulkStr(val)
}

func (s *Session) doTYPE(cmd []string) {
	if len(cmd) < 2 {
		s.enc.WriteError("ERR wrong number of arguments for 'type' command")
		return
	}
	s.enc.WriteSimpleString(s.server.Keyspace.TypeOf(cmd[1]))
}

func (s *Session) doKEYS(cmd []string) {
	s.enc.WriteStrArr(s.server.Keyspace.KeysMatchingStar())
}

func (s *Session) doCONFIG(cmd []string) {
	if len(cmd) < 3 || strings.ToUpper(cmd[1]) != "GET" {
		s.enc.WriteError("ERR unsupported CONFIG subcommand")
		return
	}
	switch strings.ToLower(cmd[2]) {
	case "dir":
		s.enc.WriteStrArr([]string{"dir", s.server.RdbDir})
	case "dbfilename":
		s.enc.WriteStrArr([]string{"dbfilename", s.server.RdbFilename})
	default:
		s.enc.WriteNullArr()
	}
}

// doINFO emits the replication section. The section name is rendered
// with its proper case ("Replication"), not the original's bugged
// literal ".capitalize()" token.
func (s *Session) doINFO(cmd []string) {
	var sb strings.Builder
	sb.WriteString("# Replication\r\n")
	sb.WriteString("role:")
	sb.WriteString(s.server.Repl.Role.String())
	sb.WriteString("\r\n")
	if s.server.Repl.Role == replication.RolePrimary {
		sb.WriteString("master_replid:")
		sb.WriteString(s.server.Repl.ReplID)
		sb.WriteString("\r\n")
		sb.WriteString("master_repl_offset:0\r\n")
	}
	s.enc.WriteBulkStr(sb.String())
}

// doREPLCONF is the primary's view: it always replies +OK. A replica
// answers REPLCONF GETACK inside its apply loop, not here — GETACK
// never arrives through normal client dispatch on a primary.
func (s *Session) doREPLCONF(cmd []string) {
	s.enc.WriteSimpleString("OK")
}

// doPSYNC replies FULLRESYNC plus the raw RDB payload, then registers
// this connection as a replica and hands it off to the ack-reading
// path; HandleCommands's read loop must not touch the connection again.
func (s *Session) doPSYNC(cmd []string) {
	s.enc.WriteSimpleString("FULLRESYNC " + s.server.Repl.ReplID + " 0")
	s.enc.WriteRDBBulk(DumpRDB(s.server.Keyspace))
	s.conn.Write(s.enc.Buf)
	s.enc.Reset()

	replica := s.server.Repl.RegisterReplica(s.conn)
	s.log.Info().Str("replica", s.conn.RemoteAddr().String()).Msg("registered replica")
	replica.RunAckReader(s.server.Repl)
}

func (s *Session) doWAIT(cmd []string) {
	if len(cmd) < 3 {
		s.enc.WriteError("ERR wrong number of arguments for 'wait' command")
		return
	}
	numReplicas, err := strconv.Atoi(cmd[1])
	if err != nil {
		s.enc.WriteError("ERR value is not an integer or out of range")
		return
	}
	timeoutMs, err := strconv.Atoi(cmd[2])
	if err != nil {
		s.enc.WriteError("ERR value is not an integer or out of range")
		return
	}
	count := s.server.Repl.Wait(numReplicas, timeoutMs, defaultWaitDeadline)
	s.enc.WriteInteger(int64(count))
}

func (s *Session) doXADD(cmd []string) {
	if len(cmd) < 5 {
		s.enc.WriteError("ERR wrong number of arguments for 'xadd' command")
		return
	}

	keyVals := cmd[3:]
	if len(keyVals)%2 != 0 {
		s.enc.WriteError("ERR wrong number of arguments for 'xadd' command")
		return
	}
	fields := make([]streams.FieldValue, 0, len(keyVals)/2)
	for i := 0; i < len(keyVals); i += 2 {
		fields = append(fields, streams.FieldValue{Field: keyVals[i], Value: keyVals[i+1]})
	}

	id, err := s.server.Keyspace.XAdd(cmd[1], cmd[2], fields)
	if err != nil {
		s.enc.WriteError(err.Error())
		return
	}
	s.enc.WriteBulkStr(id.String())
	s.propagateIfPrimary(cmd)
}

func (s *Session) doXRANGE(cmd []string) {
	if len(cmd) < 4 {
		s.enc.WriteError("ERR wrong number of arguments for 'xrange' command")
		return
	}
	entries, err := s.server.Keyspace.XRange(cmd[1], cmd[2], cmd[3])
	if err != nil {
		s.enc.WriteError(err.Error())
		return
	}
	writeStreamEntries(&s.enc, entries)
}

// doXREAD only supports the `XREAD STREAMS <key> <id>` form named in
// the spec's command table.
func (s *Session) doXREAD(cmd []string) {
	if len(cmd) < 4 || strings.ToUpper(cmd[1]) != "STREAMS" {
		s.enc.WriteError("ERR wrong number of arguments for 'xread' command")
		return
	}
	key, fromID := cmd[2], cmd[3]
	entries, err := s.server.Keyspace.XRead(key, fromID)
	if err != nil {
		s.enc.WriteError(err.Error())
		return
	}
	if len(entries) == 0 {
		s.enc.WriteNullArr()
		return
	}
	s.enc.WriteArrHeader(1)
	s.enc.WriteArrHeader(2)
	s.enc.WriteBulkStr(key)
	writeStreamEntries(&s.enc, entries)
}
