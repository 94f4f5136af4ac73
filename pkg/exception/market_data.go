package exception

import "github.com/yanun0323/errors"

var (
	ErrNoData          = errors.New("market data: no data for date")
	ErrNoSymbols       = errors.New("market data: no symbols requested")
	ErrInvalidCandle   = errors.New("market data: invalid candle")
	ErrNoWarmupHistory = errors.New("market data: no earlier date for warmup")
)
