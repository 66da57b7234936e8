// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/relay-tui/internal/stream"
)

// MaxEventSize is the maximum allowed size for a single SSE event.
const MaxEventSize = 64 * 1024

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatMessage is one turn of prior context sent upstream.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamRequest is the wire form of a streaming chat call. Each call targets
// exactly one model slot; fan-out over multiple slots is the caller's job.
type streamRequest struct {
	ConversationID     string        `json:"conversation_id"`
	Prompt             string        `json:"prompt"`
	Messages           []chatMessage `json:"messages"`
	ProviderName       string        `json:"provider_name"`
	APIFormat          string        `json:"api_format"`
	Model              string        `json:"model"`
	ModelInstanceIndex int           `json:"model_instance_index"`
	Stream             bool          `json:"stream"`
}

// streamEvent is one SSE payload from the gateway. Content is a delta;
// Thinking is a cumulative snapshot. Usage and FinishReason arrive on the
// final event.
type streamEvent struct {
	Content      string `json:"content,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StreamError is a mid-stream failure that preserves how much content had
// already been delivered.
type StreamError struct {
	Delivered int // bytes of content delivered before the failure
	Err       error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Delivered > 0 {
		return fmt.Sprintf("stream error after %d bytes: %v", e.Delivered, e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error { return e.Err }

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next SSE event and returns its data payload. Multi-line
// data fields are joined with newlines. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() ([]byte, error) {
	var dataLines [][]byte
	size := 0

	for {
		// A stream that ends without a trailing newline hands the tail
		// back alongside io.EOF, so the line is parsed before the error
		// is acted on.
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")

		// Blank line ends the event.
		if len(line) == 0 && err == nil {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			size += len(data)
			if size > MaxEventSize {
				return nil, fmt.Errorf("sse event too large: %d bytes", size)
			}
			dataLines = append(dataLines, data)
		}
		// Other fields (event:, id:, retry:, comments) are ignored.

		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}
	}
}

// =============================================================================
// STREAMING TRANSPORT
// =============================================================================

// Send streams one model's answer to a prompt over SSE.
//
// Failures before the first delta are retried with backoff (connection
// errors and 5xx, never 4xx) and surface as a returned error when retries
// run out. Once a delta has been delivered the handler owns the outcome:
// exactly one of OnComplete or OnError fires and Send returns nil.
func (c *Client) Send(ctx context.Context, req stream.Request, h stream.Handler) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(buildStreamRequest(req))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + "/chat/stream"

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt, lastErr)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(httpReq)
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")

		resp, err := sharedStreamingClient.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
			resp.Body.Close()
			apiErr := c.errorFrom(resp, body)
			if !isRetryable(apiErr) {
				return apiErr
			}
			lastErr = apiErr
			continue
		}

		delivered, err := c.consumeStream(ctx, resp.Body, h)
		resp.Body.Close()
		if err == nil {
			return nil
		}
		if delivered > 0 {
			// Partial output already reached the handler; retrying would
			// duplicate it. Terminal state goes through OnError.
			h.OnError(&StreamError{Delivered: delivered, Err: err})
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// buildStreamRequest maps a transport request onto the wire form.
func buildStreamRequest(req stream.Request) streamRequest {
	msgs := make([]chatMessage, 0, len(req.History))
	for _, m := range req.History {
		msgs = append(msgs, chatMessage{Role: m.Role.String(), Content: m.Content})
	}
	return streamRequest{
		ConversationID:     req.ConversationID,
		Prompt:             req.Prompt,
		Messages:           msgs,
		ProviderName:       req.Slot.ProviderName,
		APIFormat:          req.Slot.APIFormat,
		Model:              req.Slot.Model,
		ModelInstanceIndex: req.Slot.InstanceIndex,
		Stream:             true,
	}
}

// consumeStream reads SSE events until the stream terminates, forwarding
// deltas to the handler. It returns the number of content bytes delivered
// and a nil error once a terminal callback has fired.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, h stream.Handler) (int, error) {
	reader := NewSSEReader(body)
	delivered := 0
	var usage stream.Usage

	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		default:
		}

		data, err := reader.ReadEvent()
		if err != nil {
			// Cancellation closes the body mid-read; report the context
			// error rather than the transport's read failure.
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			if err == io.EOF {
				// Stream closed without [DONE]; treat the delivered
				// content as complete.
				h.OnComplete(&usage)
				return delivered, nil
			}
			return delivered, err
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			h.OnComplete(&usage)
			return delivered, nil
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Skip malformed events.
			continue
		}

		if ev.Error != nil {
			h.OnError(&GatewayError{Code: ev.Error.Code, Message: ev.Error.Message})
			return delivered, nil
		}

		if ev.Usage != nil {
			usage.InputTokens = ev.Usage.InputTokens
			usage.OutputTokens = ev.Usage.OutputTokens
		}

		if ev.Content != "" || ev.Thinking != "" {
			delivered += len(ev.Content)
			h.OnChunk(stream.Chunk{Content: ev.Content, Thinking: ev.Thinking})
		}

		if ev.FinishReason != "" {
			h.OnComplete(&usage)
			return delivered, nil
		}
	}
}

// interface conformance
var (
	_ stream.Transport  = (*Client)(nil)
	_ stream.MessageAPI = (*Client)(nil)
)
