package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agent/kestrel/pkg/turn"
)

// fakeConn records written frames
type fakeConn struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("connection gone")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var envelopes []Envelope
	for _, frame := range c.frames {
		var e Envelope
		require.NoError(t, json.Unmarshal(frame, &e))
		envelopes = append(envelopes, e)
	}
	return envelopes
}

func TestBroadcaster_SequenceNumbersAreMonotonic(t *testing.T) {
	registry := NewClientRegistry()
	conn := &fakeConn{}
	registry.Add(NewClient("client_1", conn))

	b := NewBroadcaster(registry)
	for i := 0; i < 3; i++ {
		b.Emit(turn.Event{ID: turn.NewEventID(), Kind: turn.EventAgentMessage, Message: "hi"})
	}

	envelopes := conn.envelopes(t)
	require.Len(t, envelopes, 3)
	assert.Equal(t, int64(1), envelopes[0].Seq)
	assert.Equal(t, int64(2), envelopes[1].Seq)
	assert.Equal(t, int64(3), envelopes[2].Seq)
	assert.Equal(t, "event", envelopes[0].Type)
	assert.Equal(t, turn.EventAgentMessage, envelopes[0].Event.Kind)
}

func TestBroadcaster_ReachesEveryClient(t *testing.T) {
	registry := NewClientRegistry()
	connA := &fakeConn{}
	connB := &fakeConn{}
	registry.Add(NewClient("client_a", connA))
	registry.Add(NewClient("client_b", connB))

	b := NewBroadcaster(registry)
	b.Emit(turn.Event{Kind: turn.EventTaskComplete, Message: "done"})

	require.Len(t, connA.envelopes(t), 1)
	require.Len(t, connB.envelopes(t), 1)
	assert.Equal(t, "done", connA.envelopes(t)[0].Event.Message)
}

func TestBroadcaster_FailedClientDoesNotBlockOthers(t *testing.T) {
	registry := NewClientRegistry()
	broken := &fakeConn{failWrites: true}
	healthy := &fakeConn{}
	registry.Add(NewClient("client_broken", broken))
	registry.Add(NewClient("client_healthy", healthy))

	b := NewBroadcaster(registry)
	b.Emit(turn.Event{Kind: turn.EventTaskStarted})

	assert.Len(t, healthy.envelopes(t), 1)
}

func TestBroadcaster_NoClientsIsNoOp(t *testing.T) {
	b := NewBroadcaster(NewClientRegistry())
	// Must not panic or block
	b.Emit(turn.Event{Kind: turn.EventTaskStarted})
}

func TestClientRegistry_AddRemoveCount(t *testing.T) {
	registry := NewClientRegistry()
	registry.Add(NewClient("a", &fakeConn{}))
	registry.Add(NewClient("b", &fakeConn{}))
	assert.Equal(t, 2, registry.Count())

	registry.Remove("a")
	assert.Equal(t, 1, registry.Count())

	_, exists := registry.Get("a")
	assert.False(t, exists)
	_, exists = registry.Get("b")
	assert.True(t, exists)
}
