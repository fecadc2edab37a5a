package market

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// strategyFileMajor is the schema major version this build understands
const strategyFileMajor = 1

// StrategyFile is the on-disk format of configs/strategies.yaml
type StrategyFile struct {
	SchemaVersion string                      `yaml:"schema_version"`
	Markets       map[MarketType]SignalConfig `yaml:"markets"`
}

// LoadStrategyFile parses and validates a strategy configuration file.
// The schema version is semver-checked; a major bump means the file layout
// changed incompatibly and must not be half-read.
func LoadStrategyFile(path string) (*StrategyFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}

	var file StrategyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file: %w", err)
	}

	version, err := semver.NewVersion(file.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: bad schema_version %q: %v", ErrInvalidConfig, file.SchemaVersion, err)
	}
	if version.Major() != strategyFileMajor {
		return nil, fmt.Errorf("%w: schema_version %s not compatible with supported major %d",
			ErrInvalidConfig, file.SchemaVersion, strategyFileMajor)
	}

	for mt, cfg := range file.Markets {
		cfg.MarketType = mt
		if cfg.Version == 0 {
			cfg.Version = 1
		}
		if cfg.MTFMinFactors == 0 {
			cfg.MTFMinFactors = 3
		}
		if cfg.ConfidenceWeights.Sum() == 0 {
			cfg.ConfidenceWeights = DefaultConfidenceWeights()
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("market %s: %w", mt, err)
		}
		file.Markets[mt] = cfg
	}

	return &file, nil
}

// ApplyTo seeds a registry from the file without touching the store; used
// at boot before any learned configs are loaded from the database.
func (f *StrategyFile) ApplyTo(r *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for mt, cfg := range f.Markets {
		r.configs[mt] = cfg
	}
}
