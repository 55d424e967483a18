package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	// listing pages are capped so a misbehaving cursor cannot loop forever
	anthropicMaxPages = 20
)

// AnthropicProvider implements Provider for Anthropic Claude over raw HTTP.
type AnthropicProvider struct {
	*BaseHTTPProvider
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	base := NewBaseHTTPProvider(Anthropic, cfg.APIKey, strings.TrimRight(baseURL, "/"), cfg.Timeout)
	base.SetAPIKeyHeader("x-api-key")
	base.SetHeader("anthropic-version", anthropicVersion)
	return &AnthropicProvider{BaseHTTPProvider: base}
}

func (p *AnthropicProvider) ID() ID { return Anthropic }

type anthropicModelPage struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Type        string `json:"type"`
		CreatedAt   string `json:"created_at"`
	} `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}

// ListModels walks GET /models; only Claude models are kept.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]RawModel, error) {
	var models []RawModel
	afterID := ""

	for page := 0; page < anthropicMaxPages; page++ {
		q := url.Values{}
		q.Set("limit", "100")
		if afterID != "" {
			q.Set("after_id", afterID)
		}

		body, _, err := p.DoRequest(ctx, http.MethodGet, "/models?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var resp anthropicModelPage
		if err := p.DecodeJSON(body, &resp); err != nil {
			return nil, err
		}
		if resp.Data == nil {
			return nil, Malformed(Anthropic, fmt.Errorf("listing has no data field"))
		}

		for _, m := range resp.Data {
			if m.ID == "" || !strings.Contains(strings.ToLower(m.ID), "claude") {
				continue
			}
			raw := RawModel{ID: m.ID, DisplayName: m.DisplayName}
			if m.CreatedAt != "" {
				raw.Metadata = map[string]string{"created_at": m.CreatedAt}
			}
			models = append(models, raw)
		}

		if !resp.HasMore || resp.LastID == "" {
			break
		}
		afterID = resp.LastID
	}

	return models, nil
}

// Complete sends a single-turn message to Claude.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"model":      req.Model,
		"max_tokens": req.MaxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.System != "" {
		reqBody["system"] = req.System
	}
	if req.Temperature != 0 {
		reqBody["temperature"] = req.Temperature
	}

	body, status, err := p.DoRequest(ctx, http.MethodPost, "/messages", reqBody)
	if err != nil {
		return nil, p.parseAPIError(err, status, body)
	}

	var apiResp struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := p.DecodeJSON(body, &apiResp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, Malformed(Anthropic, fmt.Errorf("message has no text content"))
	}

	return &CompletionResponse{
		Model: apiResp.Model,
		Text:  sb.String(),
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}, nil
}

// parseAPIError re-classifies using Anthropic's structured error message:
// {"type":"error","error":{"type":"...","message":"..."}}
func (p *AnthropicProvider) parseAPIError(err error, statusCode int, body []byte) error {
	if len(body) == 0 {
		return err
	}
	var apiErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr != nil || apiErr.Error.Message == "" {
		return err
	}
	return ClassifyError(Anthropic, fmt.Errorf("%s: %s", apiErr.Error.Type, apiErr.Error.Message), statusCode, "")
}
