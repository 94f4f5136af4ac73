package journal

import (
	"fmt"
	"time"
)

const (
	defaultSegmentMaxBytes int64 = 64 << 20
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "journal"
	defaultMaxLineBytes          = 4 << 20
	segmentSuffix                = ".jsonl"
)

// Config controls journal writer behavior.
type Config struct {
	Dir                string        `mapstructure:"dir"`
	FilePrefix         string        `mapstructure:"file_prefix"`
	SegmentMaxBytes    int64         `mapstructure:"segment_max_bytes"`
	SegmentMaxDuration time.Duration `mapstructure:"segment_max_duration"`
	BufferSize         int           `mapstructure:"buffer_size"`
	FlushInterval      time.Duration `mapstructure:"flush_interval"`
}

// DefaultConfig returns a baseline configuration for the journal writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		FilePrefix:      defaultFilePrefix,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		BufferSize:      defaultBufferSize,
		FlushInterval:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid journal config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid journal config: SegmentMaxBytes must be > 0")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid journal config: BufferSize must be > 0")
	}
	if c.FilePrefix == "" {
		return fmt.Errorf("invalid journal config: FilePrefix is empty")
	}
	if c.SegmentMaxDuration < 0 {
		return fmt.Errorf("invalid journal config: SegmentMaxDuration must be >= 0")
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("invalid journal config: FlushInterval must be >= 0")
	}
	return nil
}
