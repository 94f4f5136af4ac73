package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"papertrader/pkg/conn"
	"papertrader/pkg/exception"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config selects and configures the provider.
type Config struct {
	Driver   string      `mapstructure:"driver"`
	Path     string      `mapstructure:"path"`
	Postgres conn.Option `mapstructure:"postgres"`
}

func (c Config) withDefaults() Config {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Driver == DriverSQLite && c.Path == "" {
		c.Path = "data/ohlcv.db"
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("invalid history config: Path is empty")
		}
	case DriverPostgres:
		if c.Postgres.ConnString == "" && c.Postgres.Database == "" {
			return fmt.Errorf("invalid history config: postgres database or dsn is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid history config: unknown driver %q", c.Driver)
	}
	return nil
}

// Open builds the configured provider keyed by days in loc.
func Open(ctx context.Context, cfg Config, loc *time.Location) (Provider, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.Path, loc)
	case DriverPostgres:
		client, err := conn.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, errors.Wrapf(exception.ErrDatabaseConnection, "postgres: %s", err)
		}
		p, err := NewPostgresProvider(ctx, client, loc)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return p, nil
	case DriverMemory:
		return NewMemoryProvider(loc), nil
	}
	return nil, errors.Wrapf(exception.ErrUnsupportedDriver, "%s", cfg.Driver)
}
