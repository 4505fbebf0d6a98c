package model

import (
	"context"
	"fmt"
)

// Client is a provider-agnostic model client
type Client interface {
	// Stream sends a prompt and returns a stream of response events.
	// A well-formed stream ends with an EventCompleted event; a stream
	// that closes without one must be treated as a transport failure.
	Stream(ctx context.Context, prompt Prompt) (*Stream, error)

	// Provider returns the provider name
	Provider() string
}

// Config selects and parameterizes a provider
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	MaxTokens int
}

// NewClient creates a client for the configured provider
func NewClient(cfg Config) (Client, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Stream delivers response events in order. The channel is closed when the
// response is exhausted.
type Stream struct {
	events chan StreamEvent
}

// NewStream creates a stream with a buffered event channel
func NewStream(capacity int) *Stream {
	return &Stream{events: make(chan StreamEvent, capacity)}
}

// Events returns the event channel
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Push appends an event; it blocks when the buffer is full
func (s *Stream) Push(event StreamEvent) {
	s.events <- event
}

// Close marks the stream exhausted
func (s *Stream) Close() {
	close(s.events)
}

// Collect drains a stream into items and usage. It returns
// ErrIncompleteStream when the stream closes before EventCompleted, and
// ctx.Err() when the caller is cancelled mid-stream.
func Collect(ctx context.Context, stream *Stream) ([]ResponseItem, TokenUsage, error) {
	var items []ResponseItem
	var usage TokenUsage

	for {
		select {
		case <-ctx.Done():
			return items, usage, ctx.Err()
		case event, ok := <-stream.Events():
			if !ok {
				return items, usage, ErrIncompleteStream
			}
			switch event.Kind {
			case EventItemDone:
				if event.Item != nil {
					items = append(items, *event.Item)
				}
			case EventCompleted:
				if event.Usage != nil {
					usage = *event.Usage
				}
				return items, usage, nil
			}
		}
	}
}
