// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/stream"
)

const testAPIKey = "rk-test-abcdefghijklmnopqrstuvwxyz0123456789"

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(testAPIKey).WithBaseURL(server.URL)
}

// =============================================================================
// MESSAGE API TESTS
// =============================================================================

func TestAppend_RoundTrip(t *testing.T) {
	var got appendPayload
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/conv1/messages", r.URL.Path)
		require.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"id": "srv_42",
			"role": "assistant",
			"content": "Hello",
			"model": "claude-sonnet",
			"provider_name": "anthropic",
			"api_format": "anthropic",
			"model_instance_index": 1,
			"parent_message_id": "q1",
			"input_tokens": 12,
			"output_tokens": 7,
			"created_at": "2025-06-01T12:00:00Z"
		}`))
	}))

	saved, err := client.Append(context.Background(), stream.AppendRequest{
		ConversationID:     "conv1",
		Role:               model.RoleAssistant,
		Content:            "Hello",
		Model:              "claude-sonnet",
		ProviderName:       "anthropic",
		APIFormat:          "anthropic",
		ParentMessageID:    "q1",
		ModelInstanceIndex: 1,
		InputTokens:        12,
		OutputTokens:       7,
	})
	require.NoError(t, err)

	assert.Equal(t, "srv_42", saved.ID)
	assert.Equal(t, model.RoleAssistant, saved.Role)
	assert.Equal(t, 1, saved.ModelInstanceIndex)
	assert.Equal(t, 7, saved.OutputTokens)

	assert.Equal(t, "assistant", got.Role)
	assert.Equal(t, "q1", got.ParentMessageID)
	assert.Equal(t, 1, got.ModelInstanceIndex)
}

func TestList_ReturnsMessages(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/conv1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"id": "q1", "role": "user", "content": "Hi", "created_at": "2025-06-01T12:00:00Z"},
			{"id": "a1", "role": "assistant", "content": "Hello", "model": "gpt-4o",
			 "provider_name": "openai", "api_format": "openai",
			 "model_instance_index": 0, "parent_message_id": "q1",
			 "created_at": "2025-06-01T12:00:01Z"}
		]}`))
	}))

	msgs, err := client.List(context.Background(), "conv1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "gpt-4o", msgs[1].Model)
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("")

	_, err := client.List(context.Background(), "conv1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.Append(context.Background(), stream.AppendRequest{ConversationID: "conv1"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.ErrorIs(t, client.Preflight(), ErrNotConfigured)
	assert.NoError(t, NewClient(testAPIKey).Preflight())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		header map[string]string
		want   error
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error": {"code": "bad_key", "message": "invalid key"}}`,
			want:   ErrAuthFailed,
		},
		{
			name:   "conversation missing",
			status: http.StatusNotFound,
			body:   `{"error": {"code": "not_found", "message": "no such conversation"}}`,
			want:   ErrConversationNotFound,
		},
		{
			name:   "model missing",
			status: http.StatusNotFound,
			body:   `{"error": {"code": "model_not_found", "message": "no such model"}}`,
			want:   ErrModelNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			_, err := client.List(context.Background(), "conv1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRateLimit_RetryAfterParsed(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})).WithMaxRetries(1)

	_, err := client.List(context.Background(), "conv1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 2*time.Second, rlErr.RetryAfter)
}

func TestDoJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": {"code": "internal", "message": "boom"}}`))
			return
		}
		w.Write([]byte(`{"data": []}`))
	}))

	_, err := client.List(context.Background(), "conv1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoJSON_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": "bad_request", "message": "malformed"}}`))
	}))

	_, err := client.List(context.Background(), "conv1")
	require.Error(t, err)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestKeyFingerprint_NeverRevealsKey(t *testing.T) {
	client := NewClient(testAPIKey)
	fp := client.KeyFingerprint()
	assert.Len(t, fp, 8)
	assert.NotEqual(t, testAPIKey[:8], fp)

	assert.Equal(t, "none", NewClient("").KeyFingerprint())
}
