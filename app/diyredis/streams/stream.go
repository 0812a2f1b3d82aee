package streams

import "errors"

var ErrNotGreater = errors.New("stream entry ID must be greater than the last entry ID")

// FieldValue is one field-value pair of a stream entry. Entries store these
// as an ordered slice rather than a map so that XRANGE/XREAD replies preserve
// the order fields were given to XADD.
type FieldValue struct {
	Field string
	Value string
}

// Stream is an append-only, strictly-increasing-key sequence of entries,
// backed by the radix tree in radix.go.
type Stream struct {
	root     RxNode
	lastKey  Key
	haveLast bool
	length   int
}

// NewStream returns an empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// Put inserts fields under key, which must be strictly greater than every
// key already in the stream (including the min key 0-0, which is never a
// legal entry ID on its own).
func (s *Stream) Put(key Key, fields []FieldValue) error {
	if key.IsMin() {
		return errors.New("stream entry ID must be greater than 0-0")
	}
	if s.haveLast && !key.GreaterThan(s.lastKey) {
		return ErrNotGreater
	}

	node := s.root.create(key.internalRepr())
	node.entry = &Entry{Key: key, Val: fields}
	s.lastKey = key
	s.haveLast = true
	s.length++
	return nil
}

// Search returns the fields stored under key, if present.
func (s *Stream) Search(key Key) ([]FieldValue, bool) {
	node, failIdx, _ := s.root.longestCommonPrefix(key.internalRepr())
	if failIdx != -1 || node.entry == nil {
		return nil, false
	}
	return node.entry.Val.([]FieldValue), true
}

// Range returns every entry with a key between from and to, inclusive,
// ordered from lowest to highest key.
func (s *Stream) Range(from, to Key) []Entry {
	if s.length == 0 || from.GreaterThan(to) {
		return []Entry{}
	}
	return s.root.rangeEntries(from.internalRepr(), to.internalRepr())
}

// LastKey returns the most recently inserted key and whether the stream has
// ever had an entry put into it.
func (s *Stream) LastKey() (Key, bool) {
	return s.lastKey, s.haveLast
}

// Len returns the number of entries in the stream.
func (s *Stream) Len() int {
	return s.length
}
