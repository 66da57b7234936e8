// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/stream"
)

// collector records the handler callbacks a Send call produces.
type collector struct {
	chunks    []stream.Chunk
	usage     *stream.Usage
	err       error
	completes int
	failures  int
}

func (c *collector) handler() stream.Handler {
	return stream.Handler{
		OnChunk:    func(ch stream.Chunk) { c.chunks = append(c.chunks, ch) },
		OnComplete: func(u *stream.Usage) { c.usage = u; c.completes++ },
		OnError:    func(err error) { c.err = err; c.failures++ },
	}
}

func (c *collector) content() string {
	var sb strings.Builder
	for _, ch := range c.chunks {
		sb.WriteString(ch.Content)
	}
	return sb.String()
}

func sseHandler(t *testing.T, events ...string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	})
}

func testRequest() stream.Request {
	return stream.Request{
		ConversationID: "conv1",
		Prompt:         "Hi",
		Slot: model.Slot{
			ProviderName: "anthropic", APIFormat: "anthropic",
			Model: "claude-sonnet", InstanceIndex: 0,
		},
	}
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_StreamsDeltasThenCompletes(t *testing.T) {
	client := testClient(t, sseHandler(t,
		`{"content": "He"}`,
		`{"content": "llo", "thinking": "considering greeting"}`,
		`{"usage": {"input_tokens": 9, "output_tokens": 3}}`,
		`[DONE]`,
	))

	var col collector
	require.NoError(t, client.Send(context.Background(), testRequest(), col.handler()))

	assert.Equal(t, "Hello", col.content())
	assert.Equal(t, "considering greeting", col.chunks[1].Thinking)
	assert.Equal(t, 1, col.completes)
	assert.Equal(t, 0, col.failures)
	require.NotNil(t, col.usage)
	assert.Equal(t, 9, col.usage.InputTokens)
	assert.Equal(t, 3, col.usage.OutputTokens)
}

func TestSend_FinishReasonTerminates(t *testing.T) {
	client := testClient(t, sseHandler(t,
		`{"content": "done"}`,
		`{"finish_reason": "stop", "usage": {"input_tokens": 1, "output_tokens": 1}}`,
		`{"content": "never delivered"}`,
	))

	var col collector
	require.NoError(t, client.Send(context.Background(), testRequest(), col.handler()))

	assert.Equal(t, "done", col.content())
	assert.Equal(t, 1, col.completes)
}

func TestSend_WirePayloadCarriesSlot(t *testing.T) {
	var got streamRequest
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	req := testRequest()
	req.Slot.InstanceIndex = 2
	req.History = []*model.Message{
		{ID: "q0", Role: model.RoleUser, Content: "earlier"},
		{ID: "a0", Role: model.RoleAssistant, Content: "before"},
	}

	var col collector
	require.NoError(t, client.Send(context.Background(), req, col.handler()))

	assert.True(t, got.Stream)
	assert.Equal(t, "conv1", got.ConversationID)
	assert.Equal(t, 2, got.ModelInstanceIndex)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestSend_ErrorEventGoesToHandler(t *testing.T) {
	client := testClient(t, sseHandler(t,
		`{"content": "par"}`,
		`{"error": {"code": "upstream_down", "message": "provider unavailable"}}`,
	))

	var col collector
	require.NoError(t, client.Send(context.Background(), testRequest(), col.handler()))

	assert.Equal(t, "par", col.content())
	assert.Equal(t, 0, col.completes)
	assert.Equal(t, 1, col.failures)

	var gwErr *GatewayError
	require.ErrorAs(t, col.err, &gwErr)
	assert.Equal(t, "upstream_down", gwErr.Code)
}

func TestSend_HTTPErrorReturnedBeforeStreaming(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"code": "bad_key", "message": "invalid key"}}`))
	}))

	var col collector
	err := client.Send(context.Background(), testRequest(), col.handler())

	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Empty(t, col.chunks)
	assert.Equal(t, 0, col.completes)
	assert.Equal(t, 0, col.failures)
}

func TestSend_RetriesConnectFailures(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\": \"ok\"}\n\ndata: [DONE]\n\n")
	}))

	var col collector
	require.NoError(t, client.Send(context.Background(), testRequest(), col.handler()))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "ok", col.content())
	assert.Equal(t, 1, col.completes)
}

func TestSend_CancellationSurfacesAsError(t *testing.T) {
	release := make(chan struct{})
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\": \"par\"}\n\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var col collector
	h := col.handler()

	// Cancel only after the client has delivered a delta, not merely
	// after the server flushed one; otherwise the request itself can be
	// cancelled before streaming starts and Send returns the error.
	delivered := make(chan struct{})
	var once sync.Once
	inner := h.OnChunk
	h.OnChunk = func(ch stream.Chunk) {
		inner(ch)
		once.Do(func() { close(delivered) })
	}
	go func() { done <- client.Send(ctx, testRequest(), h) }()

	<-delivered
	cancel()
	err := <-done

	// A delta was already delivered, so cancellation terminates through
	// the handler rather than the return value.
	require.NoError(t, err)
	require.Equal(t, 1, col.failures)
	assert.ErrorIs(t, col.err, context.Canceled)
}

func TestSend_NotConfigured(t *testing.T) {
	var col collector
	err := NewClient("").Send(context.Background(), testRequest(), col.handler())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader_Events(t *testing.T) {
	input := "event: delta\ndata: {\"a\":1}\n\n: comment\ndata: one\ndata: two\n\ndata: tail"
	r := NewSSEReader(strings.NewReader(input))

	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(ev))

	ev, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", string(ev))

	// Data before EOF without a trailing blank line is still delivered.
	ev, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "tail", string(ev))
}

func TestSSEReader_UnterminatedFinalLine(t *testing.T) {
	// The whole stream is one data line with no newline at all.
	r := NewSSEReader(strings.NewReader("data: tail"))

	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "tail", string(ev))

	_, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_OversizedEventRejected(t *testing.T) {
	big := "data: " + strings.Repeat("x", MaxEventSize+1) + "\n\n"
	r := NewSSEReader(strings.NewReader(big))

	_, err := r.ReadEvent()
	require.Error(t, err)
}
