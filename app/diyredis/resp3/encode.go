// Package resp3 implements the RESP wire codec: framed parsing and
// serialization of the text-and-length Redis protocol.
package resp3

import (
	"strconv"
	"unsafe"
)

const (
	simpleStrPrefix = '+'
	simpleErrPrefix = '-'
	numberPrefix    = ':'
	bulkStrPrefix   = '$'
	arrPrefix       = '*'
	CRLF            = "\r\n"
)

var nullBulk = []byte("$-1\r\n")
var nullArr = []byte("*-1\r\n")
var emptyBulk = []byte("$0\r\n\r\n")

// Encoder is a growable byte buffer with convenience methods for writing
// RESP frames. The buffer is an exported field to mutate as you like.
type Encoder struct {
	Buf []byte
}

func (e *Encoder) Reset() { e.Buf = nil }

// WriteNullBulk writes the null bulk string `$-1\r\n`, distinct from an
// empty bulk string: GET on a missing key writes this, not WriteBulkStr("").
func (e *Encoder) WriteNullBulk() {
	e.Buf = append(e.Buf, nullBulk...)
}

// WriteNullArr writes the null array `*-1\r\n`.
func (e *Encoder) WriteNullArr() {
	e.Buf = append(e.Buf, nullArr...)
}

// WriteBulkStr writes val as a length-prefixed bulk string. An empty val
// writes `$0\r\n\r\n`, never the null form — callers that mean "absent" must
// call WriteNullBulk instead.
func (e *Encoder) WriteBulkStr(val string) {
	if len(val) == 0 {
		e.Buf = append(e.Buf, emptyBulk...)
		return
	}
	e.Buf = append(e.Buf, bulkStrPrefix)
	e.Buf = append(e.Buf, strconv.Itoa(len(val))...)
	e.Buf = append(e.Buf, CRLF...)
	e.Buf = append(e.Buf, val...)
	e.Buf = append(e.Buf, CRLF...)
}

// WriteBulkBytes is WriteBulkStr for a byte slice, avoiding a copy.
func (e *Encoder) WriteBulkBytes(val []byte) {
	if len(val) == 0 {
		e.Buf = append(e.Buf, emptyBulk...)
		return
	}
	e.Buf = append(e.Buf, bulkStrPrefix)
	e.Buf = append(e.Buf, strconv.Itoa(len(val))...)
	e.Buf = append(e.Buf, CRLF...)
	e.Buf = append(e.Buf, val...)
	e.Buf = append(e.Buf, CRLF...)
}

// WriteSimpleString writes a `+` simple string. val must not contain CRLF.
func (e *Encoder) WriteSimpleString(val string) {
	e.Buf = append(e.Buf, simpleStrPrefix)
	e.Buf = append(e.Buf, val...)
	e.Buf = append(e.Buf, CRLF...)
}

// WriteError writes a `-` simple error. msg should not be prefixed with
// "ERR " already unless that's the intended error kind.
func (e *Encoder) WriteError(msg string) {
	e.Buf = append(e.Buf, simpleErrPrefix)
	e.Buf = append(e.Buf, msg...)
	e.Buf = append(e.Buf, CRLF...)
}

// WriteInteger writes a `:` integer frame.
func (e *Encoder) WriteInteger(val int64) {
	e.Buf = append(e.Buf, numberPrefix)
	e.Buf = append(e.Buf, strconv.FormatInt(val, 10)...)
	e.Buf = append(e.Buf, CRLF...)
}

// WriteArrHeader writes the `*<N>\r\n` header of an array; don't forget to
// write the arrLen items that follow.
func (e *Encoder) WriteArrHeader(arrLen int) {
	e.Buf = append(e.Buf, arrPrefix)
	e.Buf = append(e.Buf, strconv.Itoa(arrLen)...)
	e.Buf = append(e.Buf, CRLF...)
}

// WriteStrArr writes a complete RESP array of bulk strings.
func (e *Encoder) WriteStrArr(items []string) {
	e.WriteArrHeader(len(items))
	for _, item := range items {
		e.WriteBulkStr(item)
	}
}

// WriteRaw appends already-framed bytes verbatim, e.g. a pre-serialized
// command about to be propagated to replicas unchanged.
func (e *Encoder) WriteRaw(b []byte) {
	e.Buf = append(e.Buf, b...)
}

// WriteRDBBulk writes the RDB bulk-transfer form used only during the
// replication handshake: `$<len>\r\n<len bytes>` with NO trailing CRLF.
func (e *Encoder) WriteRDBBulk(payload []byte) {
	e.Buf = append(e.Buf, bulkStrPrefix)
	e.Buf = append(e.Buf, strconv.Itoa(len(payload))...)
	e.Buf = append(e.Buf, CRLF...)
	e.Buf = append(e.Buf, payload...)
}

// ByteSizeOfStrArr returns the exact wire byte count the serialized form
// of a command array would occupy when encoded with each element as a
// bulk string: 3 + len(decimal(N)) + Σ(5 + len(decimal(len(eᵢ))) + len(eᵢ)).
// Replicas use this to advance their processed-bytes counter in lockstep
// with a primary's write stream without re-encoding each propagated frame.
func ByteSizeOfStrArr(items []string) int {
	n := len(items)
	total := 1 + len(strconv.Itoa(n)) + 2 // "*" + decimal(N) + CRLF
	for _, item := range items {
		total += 1 + len(strconv.Itoa(len(item))) + 2 // "$" + decimal(len) + CRLF
		total += len(item) + 2                        // payload + CRLF
	}
	return total
}

// StringAndReset shares a pointer with the internal buffer to avoid a
// copy. Therefore a reset is mandatory to guarantee the immutability of
// the returned string.
func (e *Encoder) StringAndReset() (str string) {
	str = unsafe.String(unsafe.SliceData(e.Buf), len(e.Buf))
	e.Reset()
	return str
}
