// Package keyspace is the shared, mutex-guarded datastore: a single
// key -> (value, expiry_ms) map, where value is a tagged variant over
// {string, stream}. The original course prototype relied on cooperative,
// single-threaded scheduling to make concurrent access safe; Go's
// parallel runtime needs the mutex reintroduced explicitly, at the
// granularity of one command handler (decode through reply enqueue).
package keyspace

import (
	"errors"
	"sync"
	"time"

	"github.com/flonle/diyredis/app/diyredis/streams"
)

// Kind tags which alternative of the value variant an entry holds.
type Kind int

const (
	KindString Kind = iota
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// Value is the tagged value variant. Exactly one of Str/Stream is
// meaningful, per Kind.
type Value struct {
	Kind   Kind
	Str    string
	Stream *streams.Stream
}

type entry struct {
	val      Value
	expiryMs int64 // 0 means no expiry
}

// Clock is the "now_ms" collaborator the keyspace consumes rather than
// calling time.Now() directly, so expiry and stream auto-IDs are
// testable with an injected clock.
type Clock interface {
	NowMs() int64
}

// SystemClock is the Clock used in production: the real wall clock.
type SystemClock struct{}

func (SystemClock) NowMs() int64 { return time.Now().UnixMilli() }

// Keyspace is the process-wide datastore. All access goes through a
// single mutex; per §5 of the design this is the parallel-runtime
// equivalent of the original's cooperative-scheduling guarantee.
type Keyspace struct {
	mu    sync.Mutex
	data  map[string]entry
	clock Clock
}

func New(clock Clock) *Keyspace {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Keyspace{
		data:  make(map[string]entry),
		clock: clock,
	}
}

// ErrWrongType is returned when a command is applied against a key
// holding a value of the wrong kind.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// isExpiredLocked reports whether e is a dead entry. Must be called
// with k.mu held.
func (k *Keyspace) isExpiredLocked(e entry, nowMs int64) bool {
	return e.expiryMs != 0 && nowMs > e.expiryMs
}

// Set stores a string value. expiryMs of 0 means no expiry.
func (k *Keyspace) Set(key, val string, expiryMs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = entry{val: Value{Kind: KindString, Str: val}, expiryMs: expiryMs}
}

// Get returns the live string value for key, performing lazy expiry: a
// read that finds an expired entry deletes it and reports absent.
func (k *Keyspace) Get(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.data[key]
	if !ok {
		return "", false, nil
	}
	if k.isExpiredLocked(e, k.clock.NowMs()) {
		delete(k.data, key)
		return "", false, nil
	}
	if e.val.Kind != KindString {
		return "", false, ErrWrongType
	}
	return e.val.Str, true, nil
}

// TypeOf reports "string", "stream", or "none", applying lazy expiry.
func (k *Keyspace) TypeOf(key string) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.data[key]
	if !ok {
		return "none"
	}
	if k.isExpiredLocked(e, k.clock.NowMs()) {
		delete(k.data, key)
		return "none"
	}
	return e.val.Kind.String()
}

// KeysMatchingStar returns every live key. Only the "*" pattern is
// supported, per the spec's KEYS contract.
func (k *Keyspace) KeysMatchingStar() []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	nowMs := k.clock.NowMs()
	keys := make([]string, 0, len(k.data))
	for key, e := range k.data {
		if k.isExpiredLocked(e, nowMs) {
			delete(k.data, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// StringEntry is one live string key as dumped into an RDB snapshot.
type StringEntry struct {
	Key      string
	Val      string
	ExpiryMs int64
}

// SnapshotStrings returns every live string-kind key, applying lazy
// expiry, for use by the RDB dumper during a PSYNC full resync. Stream
// keys are omitted: this loader/dumper pair only round-trips the
// string value kind, matching the RDB subset §4.2 requires.
func (k *Keyspace) SnapshotStrings() []StringEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	nowMs := k.clock.NowMs()
	out := make([]StringEntry, 0, len(k.data))
	for key, e := range k.data {
		if k.isExpiredLocked(e, nowMs) {
			delete(k.data, key)
			continue
		}
		if e.val.Kind != KindString {
			continue
		}
		out = append(out, StringEntry{Key: key, Val: e.val.Str, ExpiryMs: e.expiryMs})
	}
	return out
}

// LoadRaw installs an entry without validation, for use only by the RDB
// loader at startup.
func (k *Keyspace) LoadRaw(key string, val Value, expiryMs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = entry{val: val, expiryMs: expiryMs}
}

// getOrCreateStreamLocked returns the stream at key, creating it if absent.
// Must be called with k.mu held.
func (k *Keyspace) getOrCreateStreamLocked(key string) (*streams.Stream, error) {
	e, ok := k.data[key]
	if !ok {
		s := streams.NewStream()
		k.data[key] = entry{val: Value{Kind: KindStream, Stream: s}}
		return s, nil
	}
	if k.isExpiredLocked(e, k.clock.NowMs()) {
		s := streams.NewStream()
		k.data[key] = entry{val: Value{Kind: KindStream, Stream: s}}
		return s, nil
	}
	if e.val.Kind != KindStream {
		return nil, ErrWrongType
	}
	return e.val.Stream, nil
}

// XAdd resolves idSpec against the stream's last used key and inserts
// fields, returning the resolved ID.
func (k *Keyspace) XAdd(key string, idSpec string, fields []streams.FieldValue) (streams.Key, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	stream, err := k.getOrCreateStreamLocked(key)
	if err != nil {
		return streams.Key{}, err
	}

	lastUsed, haveLast := stream.LastKey()
	id, err := streams.ParseID(idSpec, lastUsed, haveLast, uint64(k.clock.NowMs()))
	if err != nil {
		return streams.Key{}, err
	}
	if id.IsMin() {
		return streams.Key{}, errors.New("ERR The ID specified in XADD must be greater than 0-0")
	}
	if err := stream.Put(id, fields); err != nil {
		return streams.Key{}, errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	}
	return id, nil
}

// XRange returns entries in [fromSpec, toSpec], inclusive, ascending.
func (k *Keyspace) XRange(key string, fromSpec, toSpec string) ([]streams.Entry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.data[key]
	if !ok {
		return []streams.Entry{}, nil
	}
	if e.val.Kind != KindStream {
		return nil, ErrWrongType
	}

	from, err := streams.ParseRangeBound(fromSpec, false)
	if err != nil {
		return nil, err
	}
	to, err := streams.ParseRangeBound(toSpec, true)
	if err != nil {
		return nil, err
	}
	return e.val.Stream.Range(from, to), nil
}

// XRead returns entries strictly greater than fromSpec, ascending.
func (k *Keyspace) XRead(key string, fromSpec string) ([]streams.Entry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.data[key]
	if !ok {
		return []streams.Entry{}, nil
	}
	if e.val.Kind != KindStream {
		return nil, ErrWrongType
	}

	from, err := streams.ParseRangeBound(fromSpec, false)
	if err != nil {
		return nil, err
	}
	next, overflow := from.Next()
	if overflow {
		return []streams.Entry{}, nil
	}
	return e.val.Stream.Range(next, streams.MaxKey), nil
}
