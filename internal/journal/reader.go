package journal

import (
	"bufio"
	"io"

	"github.com/yanun0323/errors"
)

// Reader decodes journal lines sequentially.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader wraps r; lines longer than maxLine bytes fail (0 uses the default).
func NewReader(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Reader{sc: sc}
}

// Next returns the next record, skipping blank lines. It returns io.EOF at the end.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		raw := r.sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return Record{}, errors.Wrapf(err, "line %d", r.line)
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, errors.Wrapf(err, "line %d", r.line+1)
	}
	return Record{}, io.EOF
}
