package exception

import "github.com/yanun0323/errors"

var (
	ErrConnectionClose    = errors.New("connection closed")
	ErrSinkUnavailable    = errors.New("sink: unavailable")
	ErrSinkQueueFull      = errors.New("sink: queue full")
	ErrUnsupportedDriver  = errors.New("history: unsupported driver")
	ErrDatabaseConnection = errors.New("history: database unavailable")
)
