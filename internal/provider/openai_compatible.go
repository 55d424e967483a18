package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	xaiBaseURL  = "https://api.x.ai/v1"
	groqBaseURL = "https://api.groq.com/openai/v1"
	qwenBaseURL = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
)

// OpenAICompatibleProvider works with any OpenAI-compatible API.
// familyPrefixes narrows the listing to the chat families the provider
// serves under that API; an empty list keeps everything.
type OpenAICompatibleProvider struct {
	id             ID
	client         *openai.Client
	familyPrefixes []string
}

// NewOpenAICompatibleProvider creates a new OpenAI-compatible provider
func NewOpenAICompatibleProvider(id ID, cfg Config, defaultBaseURL string, familyPrefixes ...string) *OpenAICompatibleProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.BaseURL != "":
		config.BaseURL = cfg.BaseURL
	case defaultBaseURL != "":
		config.BaseURL = defaultBaseURL
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAICompatibleProvider{
		id:             id,
		client:         openai.NewClientWithConfig(config),
		familyPrefixes: familyPrefixes,
	}
}

// NewOpenAIProvider creates the OpenAI provider; only GPT chat families are listed.
func NewOpenAIProvider(cfg Config) *OpenAICompatibleProvider {
	return NewOpenAICompatibleProvider(OpenAI, cfg, "", "gpt-4", "gpt-3.5", "o1")
}

// NewXAIProvider creates the xAI provider (Grok).
func NewXAIProvider(cfg Config) *OpenAICompatibleProvider {
	return NewOpenAICompatibleProvider(XAI, cfg, xaiBaseURL, "grok")
}

// NewGroqProvider creates the Groq provider.
func NewGroqProvider(cfg Config) *OpenAICompatibleProvider {
	return NewOpenAICompatibleProvider(Groq, cfg, groqBaseURL, "llama", "gemma", "qwen", "deepseek", "mistral")
}

// NewQwenProvider creates the Qwen provider via DashScope compatible mode.
func NewQwenProvider(cfg Config) *OpenAICompatibleProvider {
	return NewOpenAICompatibleProvider(Qwen, cfg, qwenBaseURL)
}

func (p *OpenAICompatibleProvider) ID() ID { return p.id }

// ListModels lists the provider catalog through GET /models.
func (p *OpenAICompatibleProvider) ListModels(ctx context.Context) ([]RawModel, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.classify(err)
	}

	models := make([]RawModel, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID == "" {
			continue
		}
		if !p.servesFamily(m.ID) {
			continue
		}
		raw := RawModel{ID: m.ID}
		if m.OwnedBy != "" {
			raw.Metadata = map[string]string{"owned_by": m.OwnedBy}
		}
		models = append(models, raw)
	}
	return models, nil
}

func (p *OpenAICompatibleProvider) servesFamily(modelID string) bool {
	if len(p.familyPrefixes) == 0 {
		return true
	}
	lower := strings.ToLower(modelID)
	for _, prefix := range p.familyPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Complete sends a single-turn chat completion.
func (p *OpenAICompatibleProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, Malformed(p.id, fmt.Errorf("completion has no choices"))
	}

	return &CompletionResponse{
		Model: resp.Model,
		Text:  resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classify pulls the HTTP status out of go-openai's error types.
func (p *OpenAICompatibleProvider) classify(err error) error {
	statusCode := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		statusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		statusCode = reqErr.HTTPStatusCode
	}
	return ClassifyError(p.id, fmt.Errorf("%s API error: %w", p.id, err), statusCode, "")
}
