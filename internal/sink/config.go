package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/errors"

	"papertrader/internal/journal"
	"papertrader/pkg/conn"
)

const defaultQueueSize = 8192

// Config enables the sinks fed by the event queue.
type Config struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	NATS         struct {
		Enabled    bool `mapstructure:"enabled"`
		NATSConfig `mapstructure:",squash"`
	} `mapstructure:"nats"`
	Store struct {
		Enabled  bool        `mapstructure:"enabled"`
		Postgres conn.Option `mapstructure:"postgres"`
	} `mapstructure:"store"`
	Journal struct {
		Enabled        bool `mapstructure:"enabled"`
		journal.Config `mapstructure:",squash"`
	} `mapstructure:"journal"`
}

// Queue returns the configured queue capacity.
func (c Config) Queue() int {
	if c.QueueSize <= 0 {
		return defaultQueueSize
	}
	return c.QueueSize
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.QueueSize < 0 {
		return fmt.Errorf("invalid sink config: QueueSize must be >= 0")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid sink config: WriteTimeout must be >= 0")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("invalid sink config: nats url is empty")
	}
	if c.Store.Enabled && c.Store.Postgres.ConnString == "" && c.Store.Postgres.Database == "" {
		return fmt.Errorf("invalid sink config: store postgres database or dsn is required")
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		return fmt.Errorf("invalid sink config: journal dir is empty")
	}
	return nil
}

// Open builds every enabled sink. On failure the already opened ones are closed.
func Open(ctx context.Context, cfg Config) ([]Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var sinks []Sink
	fail := func(err error) ([]Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if cfg.Journal.Enabled {
		s, err := NewJournalSink(cfg.Journal.Config)
		if err != nil {
			return fail(errors.Wrap(err, "journal sink"))
		}
		sinks = append(sinks, s)
	}
	if cfg.NATS.Enabled {
		s, err := NewNATSSink(cfg.NATS.NATSConfig)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Store.Enabled {
		client, err := conn.New(ctx, cfg.Store.Postgres)
		if err != nil {
			return fail(errors.Wrap(err, "store sink"))
		}
		s, err := NewStoreSink(ctx, client)
		if err != nil {
			_ = client.Close()
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
