package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"papertrader/internal/schema"
)

var ErrClosed = errors.New("journal writer closed")

// Writer appends events as JSON lines to rotating segment files.
// It is safe for concurrent use.
type Writer struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	seg       *segmentWriter
	segID     uint64
	lastFlush time.Time
	written   uint64
	closed    bool
}

// NewWriter creates a journal writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Append writes one event.
func (w *Writer) Append(e schema.Event) error {
	line, err := encodeEvent(e)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	now := w.now()
	if w.shouldRotate(now, int64(len(line))) {
		if err := w.closeSegment(); err != nil {
			return err
		}
		if err := w.openSegment(now); err != nil {
			return err
		}
	}
	if _, err := w.seg.buf.Write(line); err != nil {
		return errors.Wrapf(err, "append to %s", w.seg.path)
	}
	w.seg.size += int64(len(line))
	w.written++

	if w.cfg.FlushInterval > 0 && now.Sub(w.lastFlush) >= w.cfg.FlushInterval {
		w.lastFlush = now
		return w.seg.buf.Flush()
	}
	return nil
}

// Flush pushes buffered lines to the current segment file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	return w.seg.buf.Flush()
}

// Written returns the number of appended events.
func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Dir returns the segment directory.
func (w *Writer) Dir() string {
	return w.cfg.Dir
}

// Close flushes, syncs and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegment()
}

func (w *Writer) shouldRotate(now time.Time, nextSize int64) bool {
	if w.seg == nil {
		return true
	}
	if w.seg.size > 0 && w.seg.size+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	if w.cfg.SegmentMaxDuration > 0 && now.Sub(w.seg.openedAt) >= w.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (w *Writer) closeSegment() error {
	seg := w.seg
	if seg == nil {
		return nil
	}
	w.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) openSegment(now time.Time) error {
	ts := now.Format("20060102-150405")
	for {
		w.segID++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, w.segID, segmentSuffix)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.seg = &segmentWriter{
			path:     path,
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}
		w.lastFlush = now
		return nil
	}
}

type segmentWriter struct {
	path     string
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
