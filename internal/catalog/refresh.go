package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/resilience"
)

// FetchResult is the outcome of one catalog refresh across all providers.
type FetchResult struct {
	Models    map[provider.ID][]ModelDescriptor
	Degraded  map[provider.ID]error
	Providers int
}

// AllFailed reports whether no provider produced a listing.
func (r FetchResult) AllFailed() bool {
	return r.Providers == 0 || len(r.Degraded) >= r.Providers
}

// Source produces a fresh catalog. Fetch never fails as a whole; per-provider
// failures are reported in FetchResult.Degraded.
type Source interface {
	Fetch(ctx context.Context) FetchResult
}

// RefresherConfig bounds a refresh.
type RefresherConfig struct {
	MaxParallel     int
	ProviderTimeout time.Duration
}

// Refresher fans out one listing call per registered provider and filters
// the results.
type Refresher struct {
	registry *provider.Registry
	rules    RuleSet
	retry    *resilience.Policy
	cfg      RefresherConfig
	logger   zerolog.Logger
}

// NewRefresher creates a refresher. retry may be nil for single-shot listing.
func NewRefresher(registry *provider.Registry, rules RuleSet, retry *resilience.Policy, cfg RefresherConfig, logger zerolog.Logger) *Refresher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	return &Refresher{
		registry: registry,
		rules:    rules,
		retry:    retry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Fetch lists every provider concurrently. A provider that errors or exceeds
// ProviderTimeout is left out of the result and recorded as degraded.
func (r *Refresher) Fetch(ctx context.Context) FetchResult {
	ids := r.registry.List()
	res := FetchResult{
		Models:    make(map[provider.ID][]ModelDescriptor, len(ids)),
		Degraded:  make(map[provider.ID]error),
		Providers: len(ids),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxParallel)

	for _, id := range ids {
		p, _ := r.registry.Get(id)
		g.Go(func() error {
			start := time.Now()
			models, err := r.fetchOne(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Degraded[p.ID()] = err
				r.logger.Warn().
					Err(err).
					Str("provider", string(p.ID())).
					Dur("elapsed", time.Since(start)).
					Msg("provider catalog degraded, omitted from this refresh")
				return nil
			}
			res.Models[p.ID()] = models
			r.logger.Debug().
				Str("provider", string(p.ID())).
				Int("models", len(models)).
				Dur("elapsed", time.Since(start)).
				Msg("provider catalog fetched")
			return nil
		})
	}
	_ = g.Wait()

	return res
}

func (r *Refresher) fetchOne(ctx context.Context, p provider.Provider) ([]ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	var raw []provider.RawModel
	list := func(ctx context.Context) error {
		var err error
		raw, err = p.ListModels(ctx)
		return err
	}

	var err error
	if r.retry != nil {
		_, err = r.retry.Execute(ctx, "list "+string(p.ID()), list)
	} else {
		err = list(ctx)
	}
	if err != nil {
		return nil, err
	}
	return r.filter(p.ID(), raw), nil
}

func (r *Refresher) filter(id provider.ID, raw []provider.RawModel) []ModelDescriptor {
	kept := make([]ModelDescriptor, 0, len(raw))
	for _, m := range raw {
		if m.ID == "" {
			continue
		}
		// Only the ID and display name are matched; metadata never excludes.
		decision, reason := ClassifyWithReason(r.rules, id, m.ID, m.DisplayName)
		if decision == Exclude {
			r.logger.Debug().
				Str("provider", string(id)).
				Str("model", m.ID).
				Str("keyword", reason).
				Msg("filtered out non-text model")
			continue
		}
		kept = append(kept, ModelDescriptor{Provider: id, ID: m.ID, DisplayName: m.Name()})
	}
	return normalize(kept)
}
