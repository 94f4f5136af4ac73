package exception

import "github.com/yanun0323/errors"

var (
	ErrNoStrategies         = errors.New("strategy: no strategies resolved")
	ErrUnknownStrategy      = errors.New("strategy: unknown class")
	ErrDuplicateStrategy    = errors.New("strategy: duplicate id")
	ErrStrategyNoSymbols    = errors.New("strategy: no symbols subscribed")
	ErrStrategyPanic        = errors.New("strategy: panic recovered")
	ErrInvalidStrategyParam = errors.New("strategy: invalid parameter")
)
