package strategy

import (
	"time"

	"github.com/spf13/cast"
	"github.com/yanun0323/errors"

	"papertrader/pkg/exception"
)

// Params are the free-form parameters of one configured strategy.
type Params map[string]any

// Float returns key as float64, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def, errors.Wrapf(exception.ErrInvalidStrategyParam, "%s: %v", key, err)
	}
	return f, nil
}

// Int returns key as int, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def, errors.Wrapf(exception.ErrInvalidStrategyParam, "%s: %v", key, err)
	}
	return i, nil
}

// Duration returns key as a duration ("5m", or a number of seconds), or def when absent.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int, int64, float64:
		secs, err := cast.ToFloat64E(n)
		if err != nil {
			return def, errors.Wrapf(exception.ErrInvalidStrategyParam, "%s: %v", key, err)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def, errors.Wrapf(exception.ErrInvalidStrategyParam, "%s: %v", key, err)
	}
	return d, nil
}
