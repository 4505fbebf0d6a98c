package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContext_RoundTrip(t *testing.T) {
	ctx := context.Background()

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithSubmissionID(ctx, "sub-1")
	ctx = WithSessionKey(ctx, "session-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "sub-1", GetSubmissionID(ctx))
	assert.Equal(t, "session-1", GetSessionKey(ctx))
}

func TestContext_EmptyValues(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSubmissionID(ctx))
	assert.Empty(t, GetSessionKey(ctx))
}

func TestNewRequestContext_GeneratesTraceID(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestNewSubmissionID_Unique(t *testing.T) {
	assert.NotEqual(t, NewSubmissionID(), NewSubmissionID())
}

func TestLoggerFromContext_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-xyz")
	ctx = WithSubmissionID(ctx, "sub-xyz")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, "trace-xyz")
	assert.Contains(t, out, "sub-xyz")
}
