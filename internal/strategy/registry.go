package strategy

import (
	"sort"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papertrader/pkg/exception"
)

// Config is one resolved strategy entry.
type Config struct {
	ID      string   `mapstructure:"id"`
	Class   string   `mapstructure:"class"`
	Symbols []string `mapstructure:"symbols"`
	Params  Params   `mapstructure:"params"`
	Enabled bool     `mapstructure:"enabled"`
}

// Factory builds a strategy from its config entry.
type Factory func(cfg Config) (Strategy, error)

// factories is the closed set of strategy classes known at startup.
var factories = map[string]Factory{
	RSIMAClass: NewRSIMA,
}

// Classes returns the registered class names, sorted.
func Classes() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BuildOne resolves and initializes one entry.
func BuildOne(cfg Config) (Strategy, error) {
	factory, ok := factories[cfg.Class]
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownStrategy, "class %q", cfg.Class)
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.Wrapf(exception.ErrStrategyNoSymbols, "strategy %s", cfg.ID)
	}
	s, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "build strategy %s", cfg.ID)
	}
	if err := s.Initialize(); err != nil {
		return nil, errors.Wrapf(err, "initialize strategy %s", cfg.ID)
	}
	return s, nil
}

// Build resolves every enabled entry. Broken entries are logged and skipped;
// it fails only when nothing could be resolved.
func Build(cfgs []Config) ([]Strategy, error) {
	seen := make(map[string]struct{}, len(cfgs))
	out := make([]Strategy, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			logs.Infof("strategy %s disabled, skip", cfg.ID)
			continue
		}
		if cfg.ID == "" {
			logs.Errorf("strategy of class %s has empty id, skip", cfg.Class)
			continue
		}
		if _, dup := seen[cfg.ID]; dup {
			logs.Errorf("skip strategy, err: %+v", errors.Wrapf(exception.ErrDuplicateStrategy, "id %s", cfg.ID))
			continue
		}
		s, err := BuildOne(cfg)
		if err != nil {
			logs.Errorf("skip strategy %s, err: %+v", cfg.ID, err)
			continue
		}
		seen[cfg.ID] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, exception.ErrNoStrategies
	}
	return out, nil
}
