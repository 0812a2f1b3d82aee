package replication

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/flonle/diyredis/app/diyredis/resp3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = time.Second
	testTick    = time.Millisecond
)

func atoiOrFail(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

type recordingApplier struct {
	mu       sync.Mutex
	commands [][]string
}

func (a *recordingApplier) ApplyPropagated(cmd []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, cmd)
}

func (a *recordingApplier) applied() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.commands...)
}

func TestRunApplyLoopAppliesPropagatedCommands(t *testing.T) {
	primary, replica := net.Pipe()
	defer primary.Close()
	defer replica.Close()

	applier := &recordingApplier{}
	done := make(chan error, 1)
	go func() { done <- RunApplyLoop(replica, resp3.NewReader(replica), applier) }()

	enc := resp3.Encoder{}
	enc.WriteStrArr([]string{"SET", "foo", "bar"})
	_, err := primary.Write(enc.Buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(applier.applied()) == 1 }, testTimeout, testTick)
	assert.Equal(t, []string{"SET", "foo", "bar"}, applier.applied()[0])

	primary.Close()
	<-done
}

func TestRunApplyLoopAnswersGetackWithProcessedBytes(t *testing.T) {
	primary, replica := net.Pipe()
	defer primary.Close()
	defer replica.Close()

	applier := &recordingApplier{}
	go RunApplyLoop(replica, resp3.NewReader(replica), applier)

	reader := resp3.NewReader(primary)

	setCmd := []string{"SET", "foo", "bar"}
	enc := resp3.Encoder{}
	enc.WriteStrArr(setCmd)
	_, err := primary.Write(enc.Buf)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(applier.applied()) == 1 }, testTimeout, testTick)

	enc.Reset()
	enc.WriteStrArr([]string{"REPLCONF", "GETACK", "*"})
	_, err = primary.Write(enc.Buf)
	require.NoError(t, err)

	msg, err := reader.ReadMessage()
	require.NoError(t, err)
	require.Len(t, msg.Arr, 3)
	assert.Equal(t, "ACK", msg.Arr[1].Str)
	assert.Equal(t, resp3.ByteSizeOfStrArr(setCmd), atoiOrFail(t, msg.Arr[2].Str))
}
