package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GoogleProvider implements Provider for Google Gemini via the genai SDK.
type GoogleProvider struct {
	client *genai.Client
}

// NewGoogleProvider creates a new Google Gemini provider
func NewGoogleProvider(ctx context.Context, cfg Config) (*GoogleProvider, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) ID() ID { return Google }

// Close releases the underlying client
func (p *GoogleProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// ListModels iterates the Gemini catalog.
func (p *GoogleProvider) ListModels(ctx context.Context) ([]RawModel, error) {
	var models []RawModel
	it := p.client.ListModels(ctx)
	for {
		info, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classifyGoogleError(err)
		}
		if raw, ok := normalizeGoogleModel(info); ok {
			models = append(models, raw)
		}
	}
	return models, nil
}

// normalizeGoogleModel strips the "models/" prefix and drops entries that
// cannot serve generateContent.
func normalizeGoogleModel(info *genai.ModelInfo) (RawModel, bool) {
	if info == nil || info.Name == "" {
		return RawModel{}, false
	}
	id := info.Name
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}

	generates := false
	for _, method := range info.SupportedGenerationMethods {
		if method == "generateContent" {
			generates = true
			break
		}
	}
	if !generates {
		return RawModel{}, false
	}

	return RawModel{
		ID:          id,
		DisplayName: info.DisplayName,
		Metadata: map[string]string{
			"base_model": info.BaseModelID,
			"version":    info.Version,
		},
	}, true
}

// Complete runs GenerateContent against the named Gemini model.
func (p *GoogleProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	model := p.client.GenerativeModel(req.Model)
	model.SetMaxOutputTokens(int32(req.MaxTokens))
	if req.Temperature != 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, classifyGoogleError(err)
	}

	text, err := extractGoogleText(resp)
	if err != nil {
		return nil, Malformed(Google, err)
	}

	out := &CompletionResponse{Model: req.Model, Text: text}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func extractGoogleText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

func classifyGoogleError(err error) error {
	statusCode := 0
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		statusCode = gerr.Code
	}
	return ClassifyError(Google, fmt.Errorf("google API error: %w", err), statusCode, "")
}
