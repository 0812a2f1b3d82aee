package streams

import (
	"errors"
	"strconv"
)

// rxChar is one base-64 digit of an internal (radix-tree) key representation.
type rxChar = uint8
type internalKey = []rxChar // internal representation of a stream entry key

const MaxUint64 = ^uint64(0)

// Key is a stream entry ID: (ms_timestamp, sequence), ordered lexicographically
// on the pair. The sentinel (0, 0) is never a legal entry ID (see Stream.Put).
type Key struct {
	LeftNr  uint64 // ms timestamp
	RightNr uint64 // sequence
}

var MaxKey = Key{MaxUint64, MaxUint64}
var MinKey = Key{0, 0}

func (k Key) String() string {
	return strconv.FormatUint(k.LeftNr, 10) + "-" + strconv.FormatUint(k.RightNr, 10)
}

// Return the "next" higher key. e.g. "1-5" -> "1-6".
//
// Will overflow to Key{0,0}, but will let you know through 'overflow'.
func (k Key) Next() (key Key, overflow bool) {
	leftNr, rightNr := k.LeftNr, k.RightNr+1

	if rightNr == 0 { // overflow
		leftNr++

		if leftNr == 0 {
			overflow = true
		}
	}
	return Key{leftNr, rightNr}, overflow
}

// Return true if k is greater than k2
func (k Key) GreaterThan(k2 Key) bool {
	if k.LeftNr != k2.LeftNr {
		return k.LeftNr > k2.LeftNr
	}
	return k.RightNr > k2.RightNr
}

// Return true if k is smaller than k2
func (k Key) LesserThan(k2 Key) bool {
	if k.LeftNr != k2.LeftNr {
		return k.LeftNr < k2.LeftNr
	}
	return k.RightNr < k2.RightNr
}

func (k Key) EqualTo(k2 Key) bool {
	return k.LeftNr == k2.LeftNr && k.RightNr == k2.RightNr
}

func (k Key) IsMin() bool {
	return k.LeftNr == 0 && k.RightNr == 0
}

func (k Key) IsMax() bool {
	return k.LeftNr == MaxUint64 && k.RightNr == MaxUint64
}

// ParseID resolves the ID argument given to XADD against the stream's last
// used key (haveLast is false for an empty stream) and the current wall
// clock, per the auto-sequence and auto-generate rules:
//
//   - "*"          -> (nowMs, 0) on an empty stream when nowMs != 0; otherwise
//     seq = lastSeq+1 when nowMs == lastMs, else 0.
//   - "<ms>-*"     -> same sequence derivation, but ms is taken verbatim.
//   - "<ms>-<seq>" -> used verbatim.
func ParseID(raw string, lastUsed Key, haveLast bool, nowMs uint64) (Key, error) {
	if raw == "*" {
		return autoSeq(nowMs, nowMs, lastUsed, haveLast), nil
	}

	msPart, seqPart, hasHyphen := splitOnce(raw, '-')
	if !hasHyphen {
		return Key{}, errors.New("invalid stream entry ID: no hyphen")
	}

	ms, err := parseUint64(msPart)
	if err != nil {
		return Key{}, err
	}

	if seqPart == "*" {
		return autoSeq(ms, ms, lastUsed, haveLast), nil
	}

	seq, err := parseUint64(seqPart)
	if err != nil {
		return Key{}, err
	}
	return Key{ms, seq}, nil
}

// autoSeq derives the sequence number for a wildcard ID component. want is the
// ms value being resolved against the last used key (nowMs for bare "*", the
// literal ms for "<ms>-*").
func autoSeq(ms uint64, want uint64, lastUsed Key, haveLast bool) Key {
	if !haveLast {
		if ms == 0 {
			return Key{0, 1}
		}
		return Key{ms, 0}
	}
	if want == lastUsed.LeftNr {
		return Key{ms, lastUsed.RightNr + 1}
	}
	return Key{ms, 0}
}

// ParseRangeBound resolves an XRANGE/XREAD boundary argument: "-" is the
// stream start, "+" the stream end, "<ms>" (sequence defaults to 0 for a
// start bound, or to the maximum for an end bound) or "<ms>-<seq>" used
// verbatim.
func ParseRangeBound(raw string, isEnd bool) (Key, error) {
	switch raw {
	case "-":
		return MinKey, nil
	case "+":
		return MaxKey, nil
	}

	msPart, seqPart, hasHyphen := splitOnce(raw, '-')
	if !hasHyphen {
		ms, err := parseUint64(raw)
		if err != nil {
			return Key{}, err
		}
		if isEnd {
			return Key{ms, MaxUint64}, nil
		}
		return Key{ms, 0}, nil
	}

	ms, err := parseUint64(msPart)
	if err != nil {
		return Key{}, err
	}
	seq, err := parseUint64(seqPart)
	if err != nil {
		return Key{}, err
	}
	return Key{ms, seq}, nil
}

func splitOnce(s string, sep byte) (before string, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// parseUint64 accepts only base-10 ASCII digits, one digit at a time, the
// same way the teacher's original addDigitToTotal did, erroring on overflow
// rather than silently wrapping.
func parseUint64(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, errors.New("invalid stream entry ID: empty component")
	}
	var total uint64
	const maxBeforeMul = MaxUint64 / 10
	for _, char := range s {
		if char < '0' || char > '9' {
			return 0, errors.New("invalid stream entry ID")
		}
		if total > maxBeforeMul {
			return 0, errors.New("integer overflow")
		}
		newTotal := total*10 + uint64(char-'0')
		if newTotal < total {
			return 0, errors.New("integer overflow")
		}
		total = newTotal
	}
	return total, nil
}

// internalRepr renders k as the fixed-length, zero-padded base-64 digit
// sequence the radix tree indexes on: 11 digits per uint64 half, concatenated.
func (k Key) internalRepr() internalKey {
	buf := make([]uint8, 22)
	toBase64(buf[:11], k.LeftNr)
	toBase64(buf[11:], k.RightNr)
	return buf
}

// Represent `val` as a base64 number in `buf`. Each value in `buf` is one digit
// of the base64-represented number. All values will be between 0 and 63, inclusive.
func toBase64(buf []uint8, val uint64) {
	i := len(buf)
	for val >= 64 {
		i--
		buf[i] = uint8(val & 63)
		val >>= 6 // == number of trailing zero bits in 64
	}

	i--
	buf[i] = uint8(val)
}
