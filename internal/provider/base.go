package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// BaseHTTPProvider provides common HTTP functionality for providers
// that are spoken to over plain JSON/HTTP.
type BaseHTTPProvider struct {
	id           ID
	client       *http.Client
	apiKey       string
	apiKeyHeader string
	baseURL      string
	headers      map[string]string
}

// NewBaseHTTPProvider creates a new base HTTP provider
func NewBaseHTTPProvider(id ID, apiKey, baseURL string, timeout time.Duration) *BaseHTTPProvider {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &BaseHTTPProvider{
		id: id,
		client: &http.Client{
			Timeout: timeout,
		},
		apiKey:  apiKey,
		baseURL: baseURL,
		headers: make(map[string]string),
	}
}

// SetHeader sets a custom header for all requests
func (b *BaseHTTPProvider) SetHeader(key, value string) {
	b.headers[key] = value
}

// SetAPIKeyHeader sends the key raw in the named header instead of as a Bearer token.
func (b *BaseHTTPProvider) SetAPIKeyHeader(name string) {
	b.apiKeyHeader = name
}

// DoRequest performs an HTTP request. Transport and HTTP-status failures
// come back classified; the body is returned even on error status.
func (b *BaseHTTPProvider) DoRequest(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		if b.apiKeyHeader != "" {
			req.Header.Set(b.apiKeyHeader, b.apiKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+b.apiKey)
		}
	}
	for key, value := range b.headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, b.HandleError(fmt.Errorf("HTTP request failed: %w", err), 0, nil)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, b.HandleError(fmt.Errorf("failed to read response body: %w", err), resp.StatusCode, nil)
	}

	if resp.StatusCode >= 400 {
		return respBody, resp.StatusCode, b.HandleError(fmt.Errorf("HTTP %d", resp.StatusCode), resp.StatusCode, respBody)
	}

	return respBody, resp.StatusCode, nil
}

// HandleError wraps error handling with classification
func (b *BaseHTTPProvider) HandleError(err error, statusCode int, responseBody []byte) error {
	if err == nil {
		return nil
	}
	return ClassifyError(b.id, err, statusCode, string(responseBody))
}

// DecodeJSON unmarshals a response body, reporting failures as malformed.
func (b *BaseHTTPProvider) DecodeJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return Malformed(b.id, err)
	}
	return nil
}
