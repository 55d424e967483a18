package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestOpenAICompatibleListModelsFiltersFamilies(t *testing.T) {
	srv := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data": []map[string]string{
				{"id": "gpt-4o", "object": "model", "owned_by": "openai"},
				{"id": "gpt-3.5-turbo", "object": "model", "owned_by": "openai"},
				{"id": "dall-e-3", "object": "model", "owned_by": "openai"},
				{"id": "whisper-1", "object": "model", "owned_by": "openai"},
				{"id": "", "object": "model"},
			},
		})
	})

	p := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: srv.URL})
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"gpt-4o", "gpt-3.5-turbo"}, ids)
	assert.Equal(t, "openai", models[0].Metadata["owned_by"])
}

func TestQwenKeepsWholeListing(t *testing.T) {
	srv := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data": []map[string]string{
				{"id": "qwen-plus", "object": "model"},
				{"id": "qwen-max", "object": "model"},
			},
		})
	})

	p := NewQwenProvider(Config{APIKey: "k", BaseURL: srv.URL})
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)
}

func TestOpenAICompatibleListModelsErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantType  ErrorType
		temporary bool
	}{
		{"server error", http.StatusInternalServerError, ErrorTypeAPIError, true},
		{"unauthorized", http.StatusUnauthorized, ErrorTypeAuth, false},
		{"rate limited", http.StatusTooManyRequests, ErrorTypeRateLimit, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, map[string]interface{}{
					"error": map[string]string{"message": "stub failure", "type": "stub"},
				})
			})

			p := NewXAIProvider(Config{APIKey: "k", BaseURL: srv.URL})
			_, err := p.ListModels(context.Background())
			require.Error(t, err)

			var ce *ClassifiedError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantType, ce.Type)
			assert.Equal(t, tt.temporary, ce.Temporary())
			assert.Equal(t, XAI, ce.Provider)
			assert.ErrorIs(t, err, ErrUpstreamUnavailable)
		})
	}
}

func TestOpenAICompatibleComplete(t *testing.T) {
	srv := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama-3.3-70b-versatile", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "Polish this", body.Messages[1].Content)

		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body.Model,
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "Polished."}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	})

	p := NewGroqProvider(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 5 * time.Second})
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Model:       "llama-3.3-70b-versatile",
		System:      "You are an editor.",
		Prompt:      "Polish this",
		MaxTokens:   256,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Polished.", resp.Text)
	assert.Equal(t, 15, resp.Usage.TotalTokens())
}

func TestOpenAICompatibleCompleteNoChoices(t *testing.T) {
	srv := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"id":      "chatcmpl-2",
			"object":  "chat.completion",
			"choices": []interface{}{},
		})
	})

	p := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "gpt-4o", Prompt: "hi", MaxTokens: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamMalformed)
}

func TestOpenAICompatibleCompleteRejectsInvalidRequest(t *testing.T) {
	p := NewOpenAIProvider(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "gpt-4o"})
	assert.Error(t, err)
}
