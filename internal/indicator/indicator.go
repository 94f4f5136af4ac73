// Package indicator holds the rolling technical indicators used by strategies and stop-loss inputs.
package indicator

import (
	"math"

	"papertrader/internal/schema"
)

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// RSI returns Wilder's relative strength index over closes.
// It needs at least period+1 closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		up, down := 0.0, 0.0
		if delta > 0 {
			up = delta
		} else {
			down = -delta
		}
		avgGain = (avgGain*float64(period-1) + up) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + down) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// TrueRange of a candle given the previous close.
func TrueRange(c schema.Candle, prevClose float64) float64 {
	hl := c.High - c.Low
	if prevClose <= 0 {
		return hl
	}
	return math.Max(hl, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR returns the Wilder-smoothed average true range. It needs at least period+1 candles.
func ATR(candles []schema.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += TrueRange(candles[i], candles[i-1].Close)
	}
	atr := sum / float64(period)
	for i := period + 1; i < len(candles); i++ {
		tr := TrueRange(candles[i], candles[i-1].Close)
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}

// Closes extracts close prices.
func Closes(candles []schema.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
