package diyredis

import (
	"time"

	resp3 "github.com/flonle/diyredis/app/diyredis/resp3"
	streams "github.com/flonle/diyredis/app/diyredis/streams"
)

// defaultWaitDeadline bounds a single GETACK round-trip inside WAIT.
const defaultWaitDeadline = 125 * time.Millisecond

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// writeStreamEntries encodes entries in stream-entry RESP shape: an
// array of [id, [field, value, field, value, ...]] pairs, fields kept
// in insertion order rather than map order.
func writeStreamEntries(encoder *resp3.Encoder, entries []streams.Entry) {
	encoder.WriteArrHeader(len(entries))

	for _, entry := range entries {
		encoder.WriteArrHeader(2)
		encoder.WriteBulkStr(entry.Key.String())
		fields, _ := entry.Val.([]streams.FieldValue)
		encoder.WriteArrHeader(len(fields) * 2)
		for _, fv := range fields {
			encoder.WriteBulkStr(fv.Field)
			encoder.WriteBulkStr(fv.Value)
		}
	}
}
