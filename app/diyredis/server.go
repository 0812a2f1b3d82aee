package diyredis

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/flonle/diyredis/app/diyredis/keyspace"
	"github.com/flonle/diyredis/app/diyredis/logging"
	"github.com/flonle/diyredis/app/diyredis/replication"
)

// ActiveExpiryInterval is the active expiry sweeper's cadence. A policy
// knob, not a constant: tests and callers may override it before Start.
var ActiveExpiryInterval = 60 * time.Second

// Server owns every shared resource a connection task touches: the
// keyspace, the replication state, and the CLI-supplied config. One
// Server backs the whole process.
type Server struct {
	Listener    net.Listener
	Quitch      chan os.Signal
	wg          *sync.WaitGroup
	stop        chan struct{}
	Keyspace    *keyspace.Keyspace
	Repl        *replication.State
	RdbDir      string
	RdbFilename string
	Port        int
	ReplicaOf   string // "host port", empty for a primary
}

func MakeServer() *Server {
	return &Server{
		Quitch:   make(chan os.Signal, 1),
		wg:       &sync.WaitGroup{},
		stop:     make(chan struct{}),
		Keyspace: keyspace.New(keyspace.SystemClock{}),
		Port:     6379,
	}
}

func (s *Server) Start() {
	if s.ReplicaOf != "" {
		s.Repl = replication.NewState(replication.RoleReplica)
	} else {
		s.Repl = replication.NewState(replication.RolePrimary)
	}

	addr := fmt.Sprintf("0.0.0.0:%d", s.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logging.Log.Error().Err(err).Str("addr", addr).Msg("failed to bind")
		os.Exit(1)
	}
	defer listener.Close()
	s.Listener = listener

	go s.Keyspace.RunActiveExpiry(ActiveExpiryInterval, s.stop)

	if s.Repl.Role == replication.RolePrimary {
		go s.Repl.RunPropagationLoop(s.stop)
	} else {
		go s.runReplicaClient()
	}

	go s.serve()
	signal.Notify(s.Quitch, syscall.SIGINT, syscall.SIGTERM)

	<-s.Quitch
	logging.Log.Info().Msg("shutting down")
	close(s.stop)
	s.wg.Wait()
	logging.Log.Info().Msg("shutdown complete")
}

func (s *Server) serve() {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			logging.Log.Error().Err(err).Msg("error accepting connection")
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	s.wg.Add(1)
	defer s.wg.Done()

	sess := &Session{
		server: s,
		conn:   conn,
		log:    logging.ForConn(conn.RemoteAddr().String()),
	}
	sess.HandleCommands()
}

// runReplicaClient performs the replica-initiated handshake against the
// configured primary, bootstraps the keyspace from the transferred RDB
// payload, and then runs the command-apply loop for the rest of the
// process's life. A failed handshake is an UpstreamError: logged, not
// retried automatically, per the spec's explicit choice not to require
// reconnection.
func (s *Server) runReplicaClient() {
	primaryAddr := strings.Replace(s.ReplicaOf, " ", ":", 1)
	conn, reader, rdb, err := replication.Handshake(primaryAddr, strconv.Itoa(s.Port))
	if err != nil {
		logging.Log.Error().Err(err).Str("primary", primaryAddr).Msg("replication handshake failed")
		return
	}
	defer conn.Close()

	if err := LoadRdbBytes(rdb, s.Keyspace); err != nil {
		logging.Log.Error().Err(err).Msg("failed to load RDB payload from primary")
		return
	}

	if err := replication.RunApplyLoop(conn, reader, s); err != nil {
		logging.Log.Info().Err(err).Msg("lost connection to primary")
	}
}

// ApplyPropagated implements replication.Applier: only SET is applied
// on the replica side, per the spec's literal command-apply contract —
// every other propagated command is silently ignored.
func (s *Server) ApplyPropagated(cmd []string) {
	if len(cmd) < 3 || !strings.EqualFold(cmd[0], "SET") {
		return
	}
	s.Keyspace.Set(cmd[1], cmd[2], parseSetExpiry(cmd))
}
