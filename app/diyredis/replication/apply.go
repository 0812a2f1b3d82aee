package replication

import (
	"net"
	"strconv"
	"strings"

	"github.com/flonle/diyredis/app/diyredis/logging"
	"github.com/flonle/diyredis/app/diyredis/resp3"
)

// Applier applies one propagated command to the local keyspace. The
// replica's apply loop never writes a reply for an applied command
// (only for REPLCONF GETACK, which the loop itself handles) — this
// mirrors the spec's "silently ignored" rule for anything besides SET
// and GETACK.
type Applier interface {
	ApplyPropagated(cmd []string)
}

// RunApplyLoop reads propagated command frames through reader — the
// same *resp3.Reader Handshake returned, buffered on top of conn — and
// applies them via applier, replying to REPLCONF GETACK * with the
// cumulative byte count of every previously processed frame, and
// advancing that counter by each frame's exact wire size after it's
// handled — GETACK included. Re-wrapping conn in a fresh reader here
// would lose any propagated bytes bufio already read ahead during or
// right after the handshake's RDB transfer.
func RunApplyLoop(conn net.Conn, reader *resp3.Reader, applier Applier) error {
	var processedBytes int64

	for {
		cmd, err := reader.ReadCommand()
		if err != nil {
			return err
		}

		frameSize := int64(resp3.ByteSizeOfStrArr(cmd))

		if len(cmd) == 3 && strings.EqualFold(cmd[0], "REPLCONF") && strings.EqualFold(cmd[1], "GETACK") {
			enc := resp3.Encoder{}
			enc.WriteStrArr([]string{"REPLCONF", "ACK", strconv.FormatInt(processedBytes, 10)})
			if _, err := conn.Write(enc.Buf); err != nil {
				return err
			}
			processedBytes += frameSize
			continue
		}

		applier.ApplyPropagated(cmd)
		processedBytes += frameSize

		logging.Log.Debug().Strs("cmd", cmd).Int64("processed_bytes", processedBytes).Msg("applied propagated command")
	}
}
