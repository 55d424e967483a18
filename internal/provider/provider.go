package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ID identifies an upstream AI provider
type ID string

const (
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	Google    ID = "google"
	Groq      ID = "groq"
	XAI       ID = "xai"
	Qwen      ID = "qwen"
)

// All lists every provider variant the factory knows how to build,
// in the order they are presented to the user.
var All = []ID{OpenAI, Anthropic, Google, Groq, XAI, Qwen}

// ParseID resolves a case-insensitive provider name.
func ParseID(name string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range All {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", name)
}

// Provider is the capability every upstream variant implements: list the
// raw catalog and run one completion. Implementations do not retry; retry
// and circuit breaking are layered above.
type Provider interface {
	ID() ID
	ListModels(ctx context.Context) ([]RawModel, error)
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// RawModel is one catalog entry normalized from a provider-specific listing.
type RawModel struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Name returns the display name, falling back to the ID.
func (m RawModel) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ID
}

// CompletionRequest is a single-turn text completion.
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionResponse holds the raw text a model returned.
type CompletionResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Usage tracks token usage
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TotalTokens returns the total token count
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ValidateRequest performs basic validation on a CompletionRequest
func ValidateRequest(req *CompletionRequest) error {
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if req.Model == "" {
		return fmt.Errorf("model must be specified")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// Config carries what the factory needs to build one provider.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// New builds the provider variant for id.
func New(ctx context.Context, id ID, cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", id)
	}
	switch id {
	case OpenAI:
		return NewOpenAIProvider(cfg), nil
	case XAI:
		return NewXAIProvider(cfg), nil
	case Groq:
		return NewGroqProvider(cfg), nil
	case Qwen:
		return NewQwenProvider(cfg), nil
	case Anthropic:
		return NewAnthropicProvider(cfg), nil
	case Google:
		return NewGoogleProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", id)
	}
}

// Registry manages the configured providers
type Registry struct {
	providers map[ID]Provider
}

// NewRegistry creates a new provider registry
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[ID]Provider),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider to the registry
func (r *Registry) Register(p Provider) {
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID
func (r *Registry) Get(id ID) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// List returns all registered provider IDs in presentation order
func (r *Registry) List() []ID {
	ids := make([]ID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return rank(ids[i]) < rank(ids[j])
	})
	return ids
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	return len(r.providers)
}

// Close releases provider resources that need it (the Google client).
func (r *Registry) Close() error {
	var firstErr error
	for _, p := range r.providers {
		if c, ok := p.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func rank(id ID) int {
	for i, known := range All {
		if id == known {
			return i
		}
	}
	return len(All)
}

// EnvVar returns the conventional environment variable holding a provider's key.
func EnvVar(id ID) string {
	switch id {
	case Google:
		return "GOOGLE_API_KEY"
	case XAI:
		return "XAI_API_KEY"
	default:
		return strings.ToUpper(string(id)) + "_API_KEY"
	}
}
