package journal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"papertrader/internal/schema"
)

// PlaybackConfig controls journal playback behavior.
type PlaybackConfig struct {
	Dir          string
	FilePrefix   string
	Speed        float64
	Kinds        []schema.EventKind
	MaxLineBytes int
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays journal records in file order, paced by event time.
type Playback struct {
	cfg   PlaybackConfig
	kinds map[schema.EventKind]struct{}
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Playback{cfg: cfg, clock: realClock{}}
	if len(cfg.Kinds) > 0 {
		p.kinds = make(map[schema.EventKind]struct{}, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			p.kinds[k] = struct{}{}
		}
	}
	return p, nil
}

// WithClock swaps the clock implementation.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid playback config: Dir is empty")
	}
	if c.Speed < 0 {
		return fmt.Errorf("invalid playback config: Speed must be >= 0")
	}
	if c.MaxLineBytes < 0 {
		return fmt.Errorf("invalid playback config: MaxLineBytes must be >= 0")
	}
	return nil
}

// Run replays records and calls the handler for each one that passes the kind filter.
func (p *Playback) Run(ctx context.Context, handler func(Record) error) error {
	if handler == nil {
		return errors.New("playback handler is nil")
	}
	files, err := p.collectFiles()
	if err != nil {
		return err
	}

	var prev time.Time
	for _, path := range files {
		if err := p.playFile(ctx, path, handler, &prev); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) collectFiles() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, err
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Playback) playFile(ctx context.Context, path string, handler func(Record) error, prev *time.Time) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, p.cfg.MaxLineBytes)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if p.kinds != nil {
			if _, ok := p.kinds[rec.Header.Kind]; !ok {
				continue
			}
		}

		if err := p.pace(ctx, rec.Header.Timestamp, prev); err != nil {
			return err
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
}

func (p *Playback) pace(ctx context.Context, current time.Time, prev *time.Time) error {
	if p.cfg.Speed <= 0 || current.IsZero() {
		return nil
	}
	if !prev.IsZero() {
		if delta := current.Sub(*prev); delta > 0 {
			if err := p.clock.Sleep(ctx, time.Duration(float64(delta)/p.cfg.Speed)); err != nil {
				return err
			}
		}
	}
	*prev = current
	return nil
}
