package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicListModelsPaginates(t *testing.T) {
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		pages++

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("after_id") {
		case "":
			fmt.Fprint(w, `{"data":[{"id":"claude-sonnet-4-20250514","display_name":"Claude Sonnet 4","type":"model"},{"id":"legacy-x","type":"model"}],"has_more":true,"last_id":"legacy-x"}`)
		case "legacy-x":
			fmt.Fprint(w, `{"data":[{"id":"claude-3-5-haiku-20241022","display_name":"Claude Haiku 3.5","type":"model","created_at":"2024-10-22T00:00:00Z"}],"has_more":false,"last_id":"claude-3-5-haiku-20241022"}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after_id"))
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Config{APIKey: "test-key", BaseURL: srv.URL})
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, pages)
	require.Len(t, models, 2)
	assert.Equal(t, "claude-sonnet-4-20250514", models[0].ID)
	assert.Equal(t, "Claude Sonnet 4", models[0].Name())
	assert.Equal(t, "2024-10-22T00:00:00Z", models[1].Metadata["created_at"])
}

func TestAnthropicListModelsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>gateway</html>`},
		{"missing data", `{"has_more":false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p := NewAnthropicProvider(Config{APIKey: "k", BaseURL: srv.URL})
			_, err := p.ListModels(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstreamMalformed)
		})
	}
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"Hello "},{"type":"text","text":"world"}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Config{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Model:     "claude-sonnet-4-20250514",
		Prompt:    "hi",
		MaxTokens: 32,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Text)
	assert.Equal(t, 7, resp.Usage.TotalTokens())
}

func TestAnthropicCompleteStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "claude-x", Prompt: "hi", MaxTokens: 8})
	require.Error(t, err)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Temporary())
	assert.Equal(t, Anthropic, ce.Provider)
}

func TestAnthropicCompleteEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"claude-x","content":[]}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "claude-x", Prompt: "hi", MaxTokens: 8})
	assert.ErrorIs(t, err, ErrUpstreamMalformed)
}
