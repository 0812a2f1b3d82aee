// Package replication implements the primary/replica protocol: the
// replica-initiated handshake, primary-side command propagation and
// fan-out, and the WAIT acknowledgement round trip.
package replication

import (
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flonle/diyredis/app/diyredis/logging"
	"github.com/flonle/diyredis/app/diyredis/resp3"
)

type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RolePrimary {
		return "master"
	}
	return "slave"
}

// replidAlphabet matches real Redis's 40-character lowercase alnum replid.
const replidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomReplID returns a 40-character lowercase alnum replication ID,
// the "random_id(40)" collaborator the spec names in §6.
func RandomReplID() string {
	buf := make([]byte, 40)
	random := make([]byte, 40)
	if _, err := rand.Read(random); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed-but-valid-shaped id rather than panicking the server.
		for i := range buf {
			buf[i] = replidAlphabet[0]
		}
		return string(buf)
	}
	for i, b := range random {
		buf[i] = replidAlphabet[int(b)%len(replidAlphabet)]
	}
	return string(buf)
}

// Replica is one connected secondary, as tracked by the primary.
type Replica struct {
	conn      net.Conn
	writeMu   sync.Mutex
	ackOffset atomic.Int64
	addr      string
}

func (r *Replica) writeRaw(b []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := r.conn.Write(b)
	return err
}

// State is the process-wide replication state: role, replica list, and
// the propagation queue. One State is owned by the Server.
type State struct {
	Role   Role
	ReplID string

	mu           sync.Mutex
	replicas     []*Replica
	masterOffset int64

	queue chan []byte
}

// NewState returns replication state in the given role, with an empty
// replica list and a freshly generated replid.
func NewState(role Role) *State {
	return &State{
		Role:   role,
		ReplID: RandomReplID(),
		queue:  make(chan []byte, 4096),
	}
}

// MasterOffset returns the primary's current write offset: the total
// byte size of every command ever propagated.
func (s *State) MasterOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterOffset
}

// RegisterReplica adds conn to the fan-out list, in registration order.
func (s *State) RegisterReplica(conn net.Conn) *Replica {
	r := &Replica{conn: conn, addr: conn.RemoteAddr().String()}
	s.mu.Lock()
	s.replicas = append(s.replicas, r)
	s.mu.Unlock()
	return r
}

func (s *State) removeReplica(target *Replica) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.replicas {
		if r == target {
			s.replicas = append(s.replicas[:i], s.replicas[i+1:]...)
			return
		}
	}
}

// ReplicaCount returns the number of currently registered replicas.
func (s *State) ReplicaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replicas)
}

// Propagate serializes cmd and enqueues it for fan-out, advancing the
// master offset by the frame's exact wire size. The queue is bounded: a
// persistently unreachable replica is disconnected by the drain loop
// rather than allowed to grow the queue without bound, but a queue that
// is itself full (every replica stalled at once) drops the frame rather
// than block the client path that called this.
func (s *State) Propagate(cmd []string) {
	enc := resp3.Encoder{}
	enc.WriteStrArr(cmd)
	frame := enc.Buf

	s.mu.Lock()
	s.masterOffset += int64(resp3.ByteSizeOfStrArr(cmd))
	s.mu.Unlock()

	select {
	case s.queue <- frame:
	default:
		logging.Log.Warn().Msg("propagation queue full, dropping frame")
	}
}

// RunPropagationLoop drains the queue, writing each frame to every
// registered replica in registration order, until stop is closed.
func (s *State) RunPropagationLoop(stop <-chan struct{}) {
	for {
		select {
		case frame := <-s.queue:
			s.mu.Lock()
			replicas := append([]*Replica(nil), s.replicas...)
			s.mu.Unlock()

			for _, r := range replicas {
				if err := r.writeRaw(frame); err != nil {
					logging.Log.Info().Str("replica", r.addr).Err(err).Msg("disconnecting unreachable replica")
					s.removeReplica(r)
				}
			}
		case <-stop:
			return
		}
	}
}

// RunAckReader continuously decodes frames arriving from a replica on
// its propagation connection (REPLCONF ACK replies to GETACK) and keeps
// r.ackOffset current. It returns when the connection errors or closes.
func (r *Replica) RunAckReader(state *State) {
	reader := resp3.NewReader(r.conn)
	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			state.removeReplica(r)
			return
		}
		if msg.Kind != '*' || len(msg.Arr) < 3 {
			continue
		}
		if len(msg.Arr) == 3 && msg.Arr[1].Str == "ACK" {
			if offset, err := strconv.ParseInt(msg.Arr[2].Str, 10, 64); err == nil {
				r.ackOffset.Store(offset)
			}
		}
	}
}

var ErrWaitTimedOut = errors.New("WAIT request timed out")

// Wait implements the WAIT command's bounded-time acknowledgement
// round trip: never a blind sleep on the fast path, only sleeping out
// the remainder of timeoutMs when the GETACK round undershoots the
// requested replica count.
func (s *State) Wait(numReplicas int, timeoutMs int, perResponseDeadline time.Duration) int {
	targetOffset := s.MasterOffset()

	s.mu.Lock()
	replicas := append([]*Replica(nil), s.replicas...)
	s.mu.Unlock()

	if targetOffset == 0 {
		return len(replicas)
	}

	getack := resp3.Encoder{}
	getack.WriteStrArr([]string{"REPLCONF", "GETACK", "*"})
	frame := getack.Buf
	for _, r := range replicas {
		_ = r.writeRaw(frame)
	}

	deadline := time.Now().Add(perResponseDeadline)
	count := countAcked(replicas, targetOffset)
	for count < numReplicas && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		count = countAcked(replicas, targetOffset)
	}

	if count < numReplicas {
		remaining := time.Duration(timeoutMs)*time.Millisecond - perResponseDeadline
		if remaining > 0 {
			time.Sleep(remaining)
		}
	}

	return count
}

func countAcked(replicas []*Replica, targetOffset int64) int {
	count := 0
	for _, r := range replicas {
		if r.ackOffset.Load() >= targetOffset {
			count++
		}
	}
	return count
}
