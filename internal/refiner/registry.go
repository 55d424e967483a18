package refiner

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Dhanuzh/airefiner/internal/config"
	"github.com/Dhanuzh/airefiner/internal/provider"
)

// BuildRegistry constructs an adapter for every enabled provider. A provider
// whose client cannot be built is logged and left out.
func BuildRegistry(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	for _, id := range cfg.ListAvailableProviders() {
		p, err := provider.New(ctx, id, cfg.ProviderConfig(id))
		if err != nil {
			logger.Warn().Err(err).Str("provider", string(id)).Msg("provider skipped")
			continue
		}
		registry.Register(p)
	}
	logger.Debug().Int("providers", registry.Len()).Msg("provider registry built")
	return registry
}
