// Package refiner owns the process-scoped state of airefiner and exposes the
// two operations every front end uses: listing available models and running
// a writing task against one of them.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Dhanuzh/airefiner/internal/catalog"
	"github.com/Dhanuzh/airefiner/internal/config"
	"github.com/Dhanuzh/airefiner/internal/langdetect"
	"github.com/Dhanuzh/airefiner/internal/logging"
	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/resilience"
	"github.com/Dhanuzh/airefiner/internal/task"
)

// Breaker scopes accepted in configuration.
const (
	ScopeProvider = "provider"
	ScopeModel    = "model"
)

var (
	// ErrEmptyInput is returned when the text to process is blank.
	ErrEmptyInput = errors.New("input text is empty")
	// ErrUnknownProvider is returned when a descriptor names a provider
	// that is not configured.
	ErrUnknownProvider = errors.New("provider is not configured")
)

// TaskResult is the outcome of one RunTask call.
type TaskResult struct {
	RequestID    string                  `json:"request_id"`
	Task         task.ID                 `json:"task"`
	ResolvedTask task.ID                 `json:"resolved_task"`
	Model        catalog.ModelDescriptor `json:"model"`
	Detection    *langdetect.Result      `json:"detection,omitempty"`
	Fallback     bool                    `json:"fallback,omitempty"`
	Output       string                  `json:"output"`
	Attempts     int                     `json:"attempts"`
	Usage        provider.Usage          `json:"usage"`
	Duration     time.Duration           `json:"duration"`
}

// Context returns the task context a follow-up "refine further" call uses.
func (r *TaskResult) Context() task.Context {
	return task.Context{}.Next(r.ResolvedTask, r.Output)
}

// InvocationError is returned once a model call has exhausted its retry and
// breaker budget.
type InvocationError struct {
	RequestID string
	Provider  provider.ID
	Model     string
	Attempts  int
	Err       error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s/%s failed after %d attempt(s): %v", e.Provider, e.Model, e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDetector replaces the language detector.
func WithDetector(d langdetect.Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithClock replaces time.Now for the cache and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSource replaces the provider-backed catalog source.
func WithSource(s catalog.Source) Option {
	return func(e *Engine) { e.source = s }
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	registry *provider.Registry
	logger   zerolog.Logger
	now      func() time.Time

	detector langdetect.Detector
	source   catalog.Source

	rules    catalog.RuleSet
	cache    *catalog.Cache
	breakers *resilience.Breakers
	retry    *resilience.Policy
	scorer   *langdetect.Scorer
	router   *task.Router
}

// New wires the cache, breakers, retry policies, scorer and router around a
// provider registry.
func New(cfg *config.Config, registry *provider.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.rules = RulesFromConfig(cfg.Filter)
	retryCfg := RetryFromConfig(cfg.Retry)
	e.retry = resilience.NewPolicy(retryCfg, logging.Component(e.logger, "retry"))

	if e.source == nil {
		// listing is bounded by the per-provider timeout instead
		listCfg := retryCfg
		listCfg.AttemptTimeout = 0
		e.source = catalog.NewRefresher(
			registry,
			e.rules,
			resilience.NewPolicy(listCfg, logging.Component(e.logger, "retry")),
			catalog.RefresherConfig{
				MaxParallel:     cfg.Catalog.MaxParallel,
				ProviderTimeout: cfg.Catalog.ProviderTimeout,
			},
			logging.Component(e.logger, "catalog"),
		)
	}
	e.cache = catalog.NewCache(e.source, cfg.Cache.TTL,
		catalog.WithClock(e.now),
		catalog.WithRetryAfter(cfg.Cache.RetryAfter),
		catalog.WithLogger(logging.Component(e.logger, "cache")),
	)

	e.breakers = resilience.NewBreakers(resilience.BreakerConfig{
		Threshold: uint32(cfg.Breaker.Threshold),
		Cooldown:  cfg.Breaker.Cooldown,
	}, logging.Component(e.logger, "breaker"), resilience.WithBreakerClock(e.now))

	e.scorer = langdetect.NewScorer(e.detector, langdetect.ScorerConfig{
		MinLength:    cfg.Detect.MinLength,
		ShortTextCap: cfg.Detect.ShortCap,
	}, logging.Component(e.logger, "langdetect"))
	e.router = task.NewRouter(cfg.Detect.Threshold)

	return e
}

// RulesFromConfig builds the filter rule set from the defaults plus overrides.
func RulesFromConfig(fc config.FilterConfig) catalog.RuleSet {
	rules := catalog.DefaultRules().WithCustomExcludes(fc.CustomExcludes...)
	rules.Strict = fc.Strict
	if len(fc.Include) > 0 {
		rules.Include = append([]string(nil), fc.Include...)
	}
	if len(fc.Exclude) > 0 {
		rules.Exclude = append([]string(nil), fc.Exclude...)
	}
	return rules
}

// RetryFromConfig converts the configuration section to a retry policy config.
func RetryFromConfig(rc config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    rc.MaxAttempts,
		BaseDelay:      rc.BaseDelay,
		MaxDelay:       rc.MaxDelay,
		Multiplier:     rc.Multiplier,
		Jitter:         rc.Jitter,
		AttemptTimeout: rc.AttemptTimeout,
	}
}

// Rules returns the active filter rules.
func (e *Engine) Rules() catalog.RuleSet { return e.rules }

// Providers lists the configured providers.
func (e *Engine) Providers() []provider.ID { return e.registry.List() }

// GetAvailableModels returns the filtered catalog, refreshing it when stale.
func (e *Engine) GetAvailableModels(ctx context.Context) (map[provider.ID][]catalog.ModelDescriptor, error) {
	return e.cache.Models(ctx)
}

// RefreshModels forces a catalog refresh.
func (e *Engine) RefreshModels(ctx context.Context) (*catalog.Snapshot, error) {
	return e.cache.Refresh(ctx)
}

// Snapshot returns the published catalog snapshot, or nil before the first refresh.
func (e *Engine) Snapshot() *catalog.Snapshot { return e.cache.Snapshot() }

// Warm refreshes the catalog in the background.
func (e *Engine) Warm() {
	e.cache.RefreshBackground(func(err error) {
		if err != nil {
			e.logger.Warn().Err(err).Msg("background catalog refresh failed")
		}
	})
}

// ResolveModel finds a catalog entry from "provider/model", "provider:model"
// or a bare model ID. A bare ID must be unambiguous.
func (e *Engine) ResolveModel(ctx context.Context, spec string) (catalog.ModelDescriptor, error) {
	models, err := e.GetAvailableModels(ctx)
	if err != nil {
		return catalog.ModelDescriptor{}, err
	}
	if id, modelID, perr := catalog.ParseKey(spec); perr == nil {
		if d, ok := catalog.Lookup(models, id, modelID); ok {
			return d, nil
		}
		return catalog.ModelDescriptor{}, fmt.Errorf("model %q is not in the %s catalog", modelID, id)
	}
	matches := catalog.FindModel(models, spec)
	var exact []catalog.ModelDescriptor
	for _, m := range matches {
		if strings.EqualFold(m.ID, spec) {
			exact = append(exact, m)
		}
	}
	if len(exact) > 0 {
		matches = exact
	}
	switch len(matches) {
	case 0:
		return catalog.ModelDescriptor{}, fmt.Errorf("no available model matches %q", spec)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Key())
		}
		return catalog.ModelDescriptor{}, fmt.Errorf("model %q is ambiguous: %s", spec, strings.Join(names, ", "))
	}
}

// Detect scores the language of text.
func (e *Engine) Detect(text string) langdetect.Result {
	return e.scorer.Detect(text)
}

// RunTask renders the task prompt for text and invokes the model behind
// desc through the breaker and retry policy.
func (e *Engine) RunTask(ctx context.Context, taskID task.ID, desc catalog.ModelDescriptor, text string, taskCtx task.Context) (*TaskResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if !taskID.Valid() {
		return nil, fmt.Errorf("unknown task %q", taskID)
	}
	p, ok := e.registry.Get(desc.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, desc.Provider)
	}

	start := e.now()
	result := &TaskResult{
		RequestID: uuid.NewString(),
		Task:      taskID,
		Model:     desc,
	}
	log := e.logger.With().
		Str("request_id", result.RequestID).
		Str("provider", string(desc.Provider)).
		Str("model", desc.ID).
		Str("task", string(taskID)).
		Bool("refine_further", taskID == task.Refine && task.CanRefineFurther(taskCtx)).
		Logger()

	var det langdetect.Result
	if taskID == task.AutoTranslate {
		det = e.scorer.Detect(text)
		result.Detection = &det
		log.Debug().Str("language", det.Language).Float64("confidence", det.Confidence).Msg("language detected")
	}
	route, err := e.router.Route(taskID, det)
	if err != nil {
		return nil, err
	}
	result.ResolvedTask = route.Resolved
	result.Fallback = route.Fallback
	if route.Fallback {
		log.Info().Msg("language uncertain, falling back to refine")
	}

	req := &provider.CompletionRequest{
		Model:       desc.ID,
		Prompt:      route.Render(text),
		System:      task.SystemPrompt,
		MaxTokens:   e.cfg.Model.MaxTokens,
		Temperature: e.cfg.Model.Temperature,
	}

	key := e.breakerKey(desc)
	var resp *provider.CompletionResponse
	err = e.breakers.Execute(key, func() error {
		n, err := e.retry.Execute(ctx, key, func(ctx context.Context) error {
			r, err := p.Complete(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		result.Attempts = n
		return err
	})
	result.Duration = e.now().Sub(start)
	if err != nil {
		// the RetryError already carries the count
		var re *resilience.RetryError
		if errors.As(err, &re) {
			err = re.Err
		}
		log.Error().Err(err).Int("attempts", result.Attempts).Msg("task failed")
		return nil, &InvocationError{
			RequestID: result.RequestID,
			Provider:  desc.Provider,
			Model:     desc.ID,
			Attempts:  result.Attempts,
			Err:       err,
		}
	}

	result.Output = strings.TrimSpace(resp.Text)
	result.Usage = resp.Usage
	log.Info().
		Str("resolved", string(route.Resolved)).
		Int("attempts", result.Attempts).
		Dur("duration", result.Duration).
		Msg("task completed")
	return result, nil
}

func (e *Engine) breakerKey(desc catalog.ModelDescriptor) string {
	if e.cfg.Breaker.Scope == ScopeProvider {
		return string(desc.Provider)
	}
	return desc.Key()
}

// BreakerState reports the breaker guarding desc.
func (e *Engine) BreakerState(desc catalog.ModelDescriptor) resilience.BreakerState {
	return e.breakers.State(e.breakerKey(desc))
}

// Breakers returns every breaker that has seen traffic.
func (e *Engine) Breakers() []resilience.BreakerState {
	return e.breakers.States()
}

// ResetBreakers closes every breaker.
func (e *Engine) ResetBreakers() {
	e.breakers.Reset()
}

// Close releases provider clients.
func (e *Engine) Close() error {
	return e.registry.Close()
}
