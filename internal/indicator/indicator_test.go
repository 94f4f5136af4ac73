package indicator

import (
	"math"
	"testing"

	"papertrader/internal/schema"
)

func TestSMA(t *testing.T) {
	testCases := []struct {
		desc   string
		values []float64
		period int
		want   float64
		ok     bool
	}{
		{"not enough values", []float64{1, 2}, 3, 0, false},
		{"exact window", []float64{1, 2, 3}, 3, 2, true},
		{"tail only", []float64{100, 1, 2, 3}, 3, 2, true},
		{"zero period", []float64{1}, 0, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got, ok := SMA(tc.values, tc.period)
			if ok != tc.ok {
				t.Fatalf("ok mismatch: got %v want %v", ok, tc.ok)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("sma mismatch: got %v want %v", got, tc.want)
			}
		})
	}
}

func TestRSIBounds(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	got, ok := RSI(rising, 5)
	if !ok || got != 100 {
		t.Fatalf("rising rsi mismatch: got %v ok %v", got, ok)
	}

	falling := []float64{6, 5, 4, 3, 2, 1}
	got, ok = RSI(falling, 5)
	if !ok || got != 0 {
		t.Fatalf("falling rsi mismatch: got %v ok %v", got, ok)
	}

	flat := []float64{3, 3, 3, 3}
	got, ok = RSI(flat, 3)
	if !ok || got != 50 {
		t.Fatalf("flat rsi mismatch: got %v ok %v", got, ok)
	}

	if _, ok := RSI([]float64{1, 2}, 2); ok {
		t.Fatal("rsi should need period+1 closes")
	}
}

func TestRSIAlternating(t *testing.T) {
	closes := []float64{10, 11, 10, 11, 10}
	got, ok := RSI(closes, 4)
	if !ok {
		t.Fatal("rsi not ready")
	}
	if math.Abs(got-50) > 1e-9 {
		t.Fatalf("rsi mismatch: got %v want 50", got)
	}
}

func TestATR(t *testing.T) {
	candles := []schema.Candle{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
	}
	got, ok := ATR(candles, 2)
	if !ok {
		t.Fatal("atr not ready")
	}
	if math.Abs(got-2) > 1e-9 {
		t.Fatalf("atr mismatch: got %v want 2", got)
	}

	gap := schema.Candle{High: 15, Low: 14, Close: 14.5}
	if tr := TrueRange(gap, 11); tr != 4 {
		t.Fatalf("true range mismatch: got %v want 4", tr)
	}
}
