package refiner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhanuzh/airefiner/internal/catalog"
	"github.com/Dhanuzh/airefiner/internal/config"
	"github.com/Dhanuzh/airefiner/internal/langdetect"
	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/resilience"
	"github.com/Dhanuzh/airefiner/internal/task"
)

type fakeProvider struct {
	id     provider.ID
	models []provider.RawModel

	mu       sync.Mutex
	requests []provider.CompletionRequest
	calls    atomic.Int32
	complete func(req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

func (f *fakeProvider) ID() provider.ID { return f.id }

func (f *fakeProvider) ListModels(ctx context.Context) ([]provider.RawModel, error) {
	return f.models, nil
}

func (f *fakeProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	f.mu.Unlock()
	if f.complete != nil {
		return f.complete(req)
	}
	return &provider.CompletionResponse{Model: req.Model, Text: "  polished text \n"}, nil
}

func (f *fakeProvider) lastRequest(t *testing.T) provider.CompletionRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type fixedDetector struct {
	guess langdetect.Guess
	err   error
}

func (d fixedDetector) Detect(string) (langdetect.Guess, error) { return d.guess, d.err }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.AttemptTimeout = time.Second
	cfg.Catalog.ProviderTimeout = time.Second
	return cfg
}

func openAIFake() *fakeProvider {
	return &fakeProvider{
		id: provider.OpenAI,
		models: []provider.RawModel{
			{ID: "gpt-4o"},
			{ID: "gpt-4o-mini"},
			{ID: "dall-e-3"},
			{ID: "gpt-4-vision-preview"},
		},
	}
}

func gpt4o() catalog.ModelDescriptor {
	return catalog.ModelDescriptor{Provider: provider.OpenAI, ID: "gpt-4o", DisplayName: "gpt-4o"}
}

func unavailable(req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	return nil, &provider.ClassifiedError{
		Type:        provider.ErrorTypeNetwork,
		Provider:    provider.OpenAI,
		Message:     "connection reset",
		IsRetryable: true,
	}
}

func TestGetAvailableModelsFilters(t *testing.T) {
	fp := openAIFake()
	e := New(testConfig(), provider.NewRegistry(fp))

	models, err := e.GetAvailableModels(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, m := range models[provider.OpenAI] {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, ids)
	assert.Equal(t, []provider.ID{provider.OpenAI}, e.Providers())
	require.NotNil(t, e.Snapshot())
}

func TestGetAvailableModelsNoProviders(t *testing.T) {
	e := New(testConfig(), provider.NewRegistry())

	_, err := e.GetAvailableModels(context.Background())
	require.ErrorIs(t, err, catalog.ErrNoModelsAvailable)

	var uf *provider.UserFriendlyError
	require.True(t, errors.As(Friendly(err), &uf))
	assert.Equal(t, "No Models Available", uf.Title)
}

func TestRunTaskRefine(t *testing.T) {
	fp := openAIFake()
	e := New(testConfig(), provider.NewRegistry(fp))

	res, err := e.RunTask(context.Background(), task.Refine, gpt4o(), "hey team, meeting moved to 3", task.Context{})
	require.NoError(t, err)

	_, perr := uuid.Parse(res.RequestID)
	assert.NoError(t, perr)
	assert.Equal(t, task.Refine, res.Task)
	assert.Equal(t, task.Refine, res.ResolvedTask)
	assert.Nil(t, res.Detection)
	assert.Equal(t, "polished text", res.Output)
	assert.Equal(t, 1, res.Attempts)

	req := fp.lastRequest(t)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Contains(t, req.Prompt, "hey team, meeting moved to 3")
	assert.NotContains(t, req.Prompt, "{{text}}")
	assert.Equal(t, task.SystemPrompt, req.System)
	assert.Equal(t, 2048, req.MaxTokens)

	next := res.Context()
	assert.True(t, task.CanRefineFurther(next))
	assert.Equal(t, "polished text", next.PreviousResult)
}

func TestRunTaskAutoTranslate(t *testing.T) {
	tests := []struct {
		name     string
		guess    langdetect.Guess
		text     string
		resolved task.ID
		fallback bool
	}{
		{
			name:     "chinese routes to english",
			guess:    langdetect.Guess{Language: "zh", Probability: 0.99},
			text:     "今天下午三点开会，请大家准时参加。",
			resolved: task.ZhToEn,
		},
		{
			name:     "confident english routes to chinese",
			guess:    langdetect.Guess{Language: "en", Probability: 1.0},
			text:     "The quarterly report is ready for review by the whole team.",
			resolved: task.EnToZh,
		},
		{
			name:     "short text falls back to refine",
			guess:    langdetect.Guess{Language: "en", Probability: 1.0},
			text:     "ok",
			resolved: task.Refine,
			fallback: true,
		},
		{
			name:     "other language falls back to refine",
			guess:    langdetect.Guess{Language: "fr", Probability: 0.95},
			text:     "Bonjour à tous, la réunion est reportée à demain matin.",
			resolved: task.Refine,
			fallback: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := openAIFake()
			e := New(testConfig(), provider.NewRegistry(fp), WithDetector(fixedDetector{guess: tt.guess}))

			res, err := e.RunTask(context.Background(), task.AutoTranslate, gpt4o(), tt.text, task.Context{})
			require.NoError(t, err)
			require.NotNil(t, res.Detection)
			assert.Equal(t, task.AutoTranslate, res.Task)
			assert.Equal(t, tt.resolved, res.ResolvedTask)
			assert.Equal(t, tt.fallback, res.Fallback)
			assert.Contains(t, fp.lastRequest(t).Prompt, tt.text)
		})
	}
}

func TestRunTaskDetectorFailureFallsBack(t *testing.T) {
	fp := openAIFake()
	e := New(testConfig(), provider.NewRegistry(fp), WithDetector(fixedDetector{err: errors.New("boom")}))

	res, err := e.RunTask(context.Background(), task.AutoTranslate, gpt4o(), "Some text that is long enough to detect.", task.Context{})
	require.NoError(t, err)
	assert.Equal(t, langdetect.Unknown, res.Detection.Language)
	assert.Equal(t, task.Refine, res.ResolvedTask)
	assert.True(t, res.Fallback)
}

func TestRunTaskRetriesTransientFailure(t *testing.T) {
	fp := openAIFake()
	var n atomic.Int32
	fp.complete = func(req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
		if n.Add(1) == 1 {
			return unavailable(req)
		}
		return &provider.CompletionResponse{Text: "ok"}, nil
	}
	e := New(testConfig(), provider.NewRegistry(fp))

	res, err := e.RunTask(context.Background(), task.Refine, gpt4o(), "some draft", task.Context{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, resilience.StatusClosed, e.BreakerState(gpt4o()).Status)
}

func TestRunTaskMalformedNotRetried(t *testing.T) {
	fp := openAIFake()
	fp.complete = func(req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
		return nil, provider.Malformed(provider.OpenAI, errors.New("no choices"))
	}
	e := New(testConfig(), provider.NewRegistry(fp))

	_, err := e.RunTask(context.Background(), task.Refine, gpt4o(), "some draft", task.Context{})
	var inv *InvocationError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 1, inv.Attempts)
	assert.ErrorIs(t, err, provider.ErrUpstreamMalformed)
	assert.EqualValues(t, 1, fp.calls.Load())
}

func TestRunTaskBreakerOpensAndFailsFast(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.Threshold = 2
	cfg.Breaker.Cooldown = time.Minute
	cfg.Retry.MaxAttempts = 2

	fp := openAIFake()
	fp.complete = unavailable
	e := New(cfg, provider.NewRegistry(fp))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.RunTask(ctx, task.Refine, gpt4o(), "draft", task.Context{})
		var inv *InvocationError
		require.True(t, errors.As(err, &inv))
		assert.Equal(t, provider.OpenAI, inv.Provider)
		assert.Equal(t, "gpt-4o", inv.Model)
		assert.Equal(t, 2, inv.Attempts)
		assert.ErrorIs(t, err, provider.ErrUpstreamUnavailable)
	}
	assert.EqualValues(t, 4, fp.calls.Load())

	state := e.BreakerState(gpt4o())
	assert.Equal(t, resilience.StatusOpen, state.Status)
	assert.Equal(t, "openai/gpt-4o", state.Key)

	_, err := e.RunTask(ctx, task.Refine, gpt4o(), "draft", task.Context{})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	var inv *InvocationError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 0, inv.Attempts)
	assert.EqualValues(t, 4, fp.calls.Load(), "open breaker must not reach the provider")

	var uf *provider.UserFriendlyError
	require.True(t, errors.As(Friendly(err), &uf))
	assert.Equal(t, "Provider Temporarily Disabled", uf.Title)

	// a different model on the same provider has its own breaker
	other := catalog.ModelDescriptor{Provider: provider.OpenAI, ID: "gpt-4o-mini"}
	fp.complete = nil
	_, err = e.RunTask(ctx, task.Refine, other, "draft", task.Context{})
	assert.NoError(t, err)

	e.ResetBreakers()
	assert.Empty(t, e.Breakers())
}

func TestRunTaskProviderScopedBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.Threshold = 1
	cfg.Breaker.Scope = ScopeProvider
	cfg.Retry.MaxAttempts = 1

	fp := openAIFake()
	fp.complete = unavailable
	e := New(cfg, provider.NewRegistry(fp))

	_, err := e.RunTask(context.Background(), task.Refine, gpt4o(), "draft", task.Context{})
	require.Error(t, err)

	other := catalog.ModelDescriptor{Provider: provider.OpenAI, ID: "gpt-4o-mini"}
	_, err = e.RunTask(context.Background(), task.Refine, other, "draft", task.Context{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, "openai", e.BreakerState(other).Key)
}

func TestRunTaskCallerCancelDoesNotTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.Threshold = 1

	fp := openAIFake()
	fp.complete = func(req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
		return nil, context.Canceled
	}
	e := New(cfg, provider.NewRegistry(fp))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.RunTask(ctx, task.Refine, gpt4o(), "draft", task.Context{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, resilience.StatusClosed, e.BreakerState(gpt4o()).Status)
}

func TestRunTaskRejectsBadInput(t *testing.T) {
	fp := openAIFake()
	e := New(testConfig(), provider.NewRegistry(fp))
	ctx := context.Background()

	_, err := e.RunTask(ctx, task.Refine, gpt4o(), "   \n", task.Context{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = e.RunTask(ctx, task.ID("summarize"), gpt4o(), "text", task.Context{})
	assert.Error(t, err)

	claude := catalog.ModelDescriptor{Provider: provider.Anthropic, ID: "claude-3-5-sonnet"}
	_, err = e.RunTask(ctx, task.Refine, claude, "text", task.Context{})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.EqualValues(t, 0, fp.calls.Load())
}

func TestResolveModel(t *testing.T) {
	groq := &fakeProvider{id: provider.Groq, models: []provider.RawModel{{ID: "llama-3.1-70b"}, {ID: "gpt-4o"}}}
	e := New(testConfig(), provider.NewRegistry(openAIFake(), groq))
	ctx := context.Background()

	d, err := e.ResolveModel(ctx, "openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", d.ID)

	d, err = e.ResolveModel(ctx, "llama-3.1-70b")
	require.NoError(t, err)
	assert.Equal(t, provider.Groq, d.Provider)

	_, err = e.ResolveModel(ctx, "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, err = e.ResolveModel(ctx, "openai/dall-e-3")
	assert.Error(t, err)

	_, err = e.ResolveModel(ctx, "mistral-large")
	assert.Error(t, err)
}

func TestRulesFromConfig(t *testing.T) {
	rules := RulesFromConfig(config.FilterConfig{
		Strict:         false,
		CustomExcludes: []string{"preview"},
		Include:        []string{"llama"},
	})
	assert.False(t, rules.Strict)
	assert.Equal(t, []string{"llama"}, rules.Include)
	assert.Contains(t, rules.CustomExcludes, "preview")
	assert.Equal(t, catalog.DefaultRules().Exclude, rules.Exclude)
}

func TestBuildRegistrySkipsMissingKeys(t *testing.T) {
	cfg := config.Default()
	cfg.APIKeys[provider.Groq] = "gsk-test"
	cfg.APIKeys[provider.Anthropic] = "sk-ant-test"

	reg := BuildRegistry(context.Background(), cfg, zerolog.Nop())
	assert.Equal(t, []provider.ID{provider.Anthropic, provider.Groq}, reg.List())
}
