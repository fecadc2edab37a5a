package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ConfigStore persists configuration history. The registry works without
// one (nil store) for tests and the offline backtest CLI.
type ConfigStore interface {
	// SaveActiveConfig archives the previous ACTIVE row for the market type
	// and inserts the new one as ACTIVE, in one transaction.
	SaveActiveConfig(ctx context.Context, cfg SignalConfig) error
	// LoadActiveConfigs returns the ACTIVE configuration per market type
	LoadActiveConfigs(ctx context.Context) (map[MarketType]SignalConfig, error)
}

// Registry holds the ACTIVE signal configuration per market type. Reads are
// lock-cheap since every scan cycle consults it for every symbol.
type Registry struct {
	mu      sync.RWMutex
	configs map[MarketType]SignalConfig
	store   ConfigStore
}

// NewRegistry creates a registry seeded with defaults for every market type
func NewRegistry(store ConfigStore) *Registry {
	configs := make(map[MarketType]SignalConfig, len(AllMarketTypes))
	for _, mt := range AllMarketTypes {
		configs[mt] = DefaultSignalConfig(mt)
	}
	return &Registry{configs: configs, store: store}
}

// LoadFromStore replaces in-memory state with the persisted ACTIVE rows.
// Market types with no persisted row keep their defaults.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	stored, err := r.store.LoadActiveConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active configs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for mt, cfg := range stored {
		r.configs[mt] = cfg
		log.Info().
			Str("market_type", string(mt)).
			Int("version", cfg.Version).
			Msg("Loaded active signal config")
	}
	return nil
}

// Get returns the ACTIVE configuration for a market type
func (r *Registry) Get(mt MarketType) SignalConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[mt]
	if !ok {
		return DefaultSignalConfig(mt)
	}
	return cfg
}

// GetForSymbol classifies the symbol and returns its market's configuration
func (r *Registry) GetForSymbol(symbol string) SignalConfig {
	return r.Get(Classify(symbol))
}

// SetActive validates, persists and activates a new configuration,
// returning the version it displaced. The version must be strictly greater
// than the current one; the store archives the previous ACTIVE row.
func (r *Registry) SetActive(ctx context.Context, cfg SignalConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prior := 0
	if current, ok := r.configs[cfg.MarketType]; ok {
		if cfg.Version <= current.Version {
			return 0, fmt.Errorf("%w: version %d not greater than active version %d",
				ErrInvalidConfig, cfg.Version, current.Version)
		}
		prior = current.Version
	}

	if r.store != nil {
		if err := r.store.SaveActiveConfig(ctx, cfg); err != nil {
			return 0, fmt.Errorf("failed to persist config: %w", err)
		}
	}

	r.configs[cfg.MarketType] = cfg
	log.Info().
		Str("market_type", string(cfg.MarketType)).
		Int("version", cfg.Version).
		Int("prior_version", prior).
		Float64("min_confidence", cfg.MinConfidence).
		Msg("Signal config activated")

	return prior, nil
}

// Snapshot returns a copy of every active configuration
func (r *Registry) Snapshot() map[MarketType]SignalConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[MarketType]SignalConfig, len(r.configs))
	for mt, cfg := range r.configs {
		out[mt] = cfg
	}
	return out
}
