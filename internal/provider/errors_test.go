package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		body      string
		wantType  ErrorType
		retryable bool
	}{
		{"rate limit status", errors.New("slow down"), 429, "", ErrorTypeRateLimit, true},
		{"rate limit body", errors.New("x"), 0, `{"type":"rate_limit_error"}`, ErrorTypeRateLimit, true},
		{"unauthorized", errors.New("nope"), 401, "", ErrorTypeAuth, false},
		{"forbidden", errors.New("nope"), 403, "", ErrorTypeAuth, false},
		{"not found", errors.New("missing"), 404, "", ErrorTypeNotFound, false},
		{"bad request", errors.New("invalid"), 400, "", ErrorTypeBadRequest, false},
		{"server error", errors.New("oops"), 502, "", ErrorTypeAPIError, true},
		{"gateway timeout", errors.New("slow"), 504, "", ErrorTypeTimeout, true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), 0, "", ErrorTypeTimeout, true},
		{"canceled", context.Canceled, 0, "", ErrorTypeCanceled, false},
		{"connection refused", errors.New("dial tcp: connection refused"), 0, "", ErrorTypeNetwork, true},
		{"overloaded", errors.New("Overloaded"), 0, "", ErrorTypeAPIError, true},
		{"unknown", errors.New("weird"), 0, "", ErrorTypeAPIError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := ClassifyError(OpenAI, tt.err, tt.status, tt.body)
			require.NotNil(t, ce)
			assert.Equal(t, tt.wantType, ce.Type)
			assert.Equal(t, tt.retryable, ce.Temporary())
			assert.Equal(t, OpenAI, ce.Provider)
		})
	}
}

func TestClassifyErrorJSON(t *testing.T) {
	var v map[string]interface{}
	jsonErr := json.Unmarshal([]byte("{not json"), &v)
	require.Error(t, jsonErr)

	ce := ClassifyError(Groq, fmt.Errorf("decode: %w", jsonErr), 200, "")
	assert.Equal(t, ErrorTypeMalformed, ce.Type)
	assert.ErrorIs(t, ce, ErrUpstreamMalformed)
}

func TestClassifyErrorKeepsExisting(t *testing.T) {
	orig := &ClassifiedError{Type: ErrorTypeAuth, Message: "bad key"}
	wrapped := fmt.Errorf("outer: %w", orig)

	ce := ClassifyError(XAI, wrapped, 500, "")
	assert.Same(t, orig, ce)
	assert.Equal(t, XAI, ce.Provider)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, ClassifyError(OpenAI, nil, 500, ""))
}

func TestMakeUserFriendly(t *testing.T) {
	auth := ClassifyError(Anthropic, errors.New("invalid x-api-key"), 401, "")
	friendly := MakeUserFriendly(auth, Anthropic)

	var uf *UserFriendlyError
	require.ErrorAs(t, friendly, &uf)
	assert.Equal(t, "Authentication Failed", uf.Title)
	assert.Contains(t, uf.Suggestion, "ANTHROPIC_API_KEY")
	assert.ErrorIs(t, friendly, auth.Original)

	generic := MakeUserFriendly(errors.New("strange"), OpenAI)
	require.ErrorAs(t, generic, &uf)
	assert.Equal(t, "API Error", uf.Title)

	assert.Nil(t, MakeUserFriendly(nil, OpenAI))
}

func TestUserFriendlyErrorString(t *testing.T) {
	e := &UserFriendlyError{Title: "T", Message: "M", Suggestion: "S", TechnicalDetails: "D"}
	s := e.Error()
	assert.True(t, strings.HasPrefix(s, "T: M"))
	assert.Contains(t, s, "Suggestion: S")
	assert.Contains(t, s, "Technical details: D")
}
