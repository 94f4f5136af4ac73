package sink

import (
	"context"

	"papertrader/internal/journal"
	"papertrader/internal/schema"
)

// JournalSink appends events to a journal writer.
type JournalSink struct {
	w *journal.Writer
}

// NewJournalSink opens a journal in cfg.Dir.
func NewJournalSink(cfg journal.Config) (*JournalSink, error) {
	w, err := journal.NewWriter(cfg)
	if err != nil {
		return nil, err
	}
	return &JournalSink{w: w}, nil
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Write(_ context.Context, e schema.Event) error {
	return s.w.Append(e)
}

func (s *JournalSink) Close() error {
	return s.w.Close()
}
