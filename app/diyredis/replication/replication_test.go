package replication

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomReplIDShape(t *testing.T) {
	id := RandomReplID()
	assert.Len(t, id, 40)
	for _, c := range id {
		assert.Contains(t, replidAlphabet, string(c))
	}
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "master", RolePrimary.String())
	assert.Equal(t, "slave", RoleReplica.String())
}

func TestRegisterAndCountReplicas(t *testing.T) {
	state := NewState(RolePrimary)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	state.RegisterReplica(server)
	assert.Equal(t, 1, state.ReplicaCount())
}

func TestPropagateAdvancesMasterOffset(t *testing.T) {
	state := NewState(RolePrimary)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	state.RegisterReplica(server)
	go io.Copy(io.Discard, client)

	stop := make(chan struct{})
	go state.RunPropagationLoop(stop)
	defer close(stop)

	assert.Equal(t, int64(0), state.MasterOffset())
	state.Propagate([]string{"SET", "foo", "bar"})
	assert.Eventually(t, func() bool { return state.MasterOffset() > 0 }, time.Second, time.Millisecond)
}

func TestWaitFastPathWhenNothingPropagatedYet(t *testing.T) {
	state := NewState(RolePrimary)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	state.RegisterReplica(server)

	count := state.Wait(1, 100, 50*time.Millisecond)
	assert.Equal(t, 1, count)
}

func TestCountAcked(t *testing.T) {
	r1 := &Replica{}
	r1.ackOffset.Store(10)
	r2 := &Replica{}
	r2.ackOffset.Store(5)

	assert.Equal(t, 1, countAcked([]*Replica{r1, r2}, 10))
	assert.Equal(t, 2, countAcked([]*Replica{r1, r2}, 5))
}

func TestRemoveReplica(t *testing.T) {
	state := NewState(RolePrimary)
	_, server := net.Pipe()
	defer server.Close()
	r := state.RegisterReplica(server)
	require.Equal(t, 1, state.ReplicaCount())

	state.removeReplica(r)
	assert.Equal(t, 0, state.ReplicaCount())
}
