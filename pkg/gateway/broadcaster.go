package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kestrel-agent/kestrel/pkg/turn"
)

// Envelope is the wire form of one broadcast event. Seq is monotonic per
// broadcaster so clients can detect gaps.
type Envelope struct {
	Type      string     `json:"type"`
	Seq       int64      `json:"seq"`
	Timestamp int64      `json:"timestamp"`
	Event     turn.Event `json:"event"`
}

// Broadcaster fans session events out to every connected client. It
// implements the session event sink.
type Broadcaster struct {
	clients *ClientRegistry
	seq     uint64
}

// NewBroadcaster creates a broadcaster over a client registry
func NewBroadcaster(clients *ClientRegistry) *Broadcaster {
	return &Broadcaster{clients: clients}
}

// Emit broadcasts one session event to all connected clients
func (b *Broadcaster) Emit(event turn.Event) {
	envelope := Envelope{
		Type:      "event",
		Seq:       b.nextSeq(),
		Timestamp: time.Now().UnixMilli(),
		Event:     event,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", string(event.Kind)).
			Int64("seq", envelope.Seq).
			Msg("Failed to marshal event")
		return
	}

	clients := b.clients.GetAll()
	if len(clients) == 0 {
		return
	}

	successCount := 0
	failureCount := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("kind", string(event.Kind)).
				Int64("seq", envelope.Seq).
				Msg("Failed to broadcast to client")
			failureCount++
		} else {
			successCount++
		}
	}

	log.Debug().
		Str("kind", string(event.Kind)).
		Int64("seq", envelope.Seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
}

func (b *Broadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
