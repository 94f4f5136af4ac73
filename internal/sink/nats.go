package sink

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

const (
	defaultSubjectPrefix = "papertrader"
	defaultNATSTimeout   = 5 * time.Second
)

// NATSConfig controls the NATS sink. A non-empty Stream publishes through JetStream into a
// stream covering <prefix>.>.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Stream        string        `mapstructure:"stream"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type publishFunc func(subject string, data []byte) error

// NATSSink publishes each event as JSON to <prefix>.<kind>.
type NATSSink struct {
	prefix  string
	publish publishFunc
	conn    *nats.Conn
}

// NewNATSSink connects to the server.
func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	if cfg.URL == "" {
		return nil, errors.Wrap(exception.ErrSinkUnavailable, "nats url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNATSTimeout
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("papertrader"),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logs.Warnf("nats disconnected: %+v", err)
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrSinkUnavailable, "connect nats %s: %s", cfg.URL, err)
	}

	s := &NATSSink{prefix: subjectPrefix(cfg.SubjectPrefix), conn: nc, publish: nc.Publish}
	if cfg.Stream == "" {
		return s, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "jetstream context")
	}
	stream := &nats.StreamConfig{Name: cfg.Stream, Subjects: []string{s.prefix + ".>"}}
	if _, err := js.AddStream(stream); err != nil {
		if _, err := js.UpdateStream(stream); err != nil {
			logs.Warnf("create or update stream %s: %+v", cfg.Stream, err)
		}
	}
	s.publish = func(subject string, data []byte) error {
		_, err := js.Publish(subject, data)
		return err
	}
	return s, nil
}

func newNATSSinkWith(prefix string, publish publishFunc) *NATSSink {
	return &NATSSink{prefix: subjectPrefix(prefix), publish: publish}
}

func subjectPrefix(prefix string) string {
	if prefix == "" {
		return defaultSubjectPrefix
	}
	return prefix
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event kind is published on.
func (s *NATSSink) Subject(kind schema.EventKind) string {
	return s.prefix + "." + kind.String()
}

func (s *NATSSink) Write(ctx context.Context, e schema.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := sonic.ConfigStd.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", e.Header.Kind)
	}
	if err := s.publish(s.Subject(e.Header.Kind), data); err != nil {
		return errors.Wrapf(err, "publish %s", s.Subject(e.Header.Kind))
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
