package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanoutSink_DeliversToEverySink(t *testing.T) {
	first := &collectSink{}
	second := &collectSink{}

	fanout := NewFanoutSink(first, nil, second)
	fanout.Emit(Event{Kind: EventAgentMessage, Message: "hi"})
	fanout.Emit(Event{Kind: EventTaskComplete})

	assert.Equal(t, 1, first.countKind(EventAgentMessage))
	assert.Equal(t, 1, first.countKind(EventTaskComplete))
	assert.Equal(t, 1, second.countKind(EventAgentMessage))
	assert.Equal(t, 1, second.countKind(EventTaskComplete))
}

func TestFanoutSink_EmptyIsNoOp(t *testing.T) {
	fanout := NewFanoutSink(nil, nil)
	// Must not panic
	fanout.Emit(Event{Kind: EventTaskStarted})
}
