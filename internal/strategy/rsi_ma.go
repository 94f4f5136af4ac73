package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/yanun0323/errors"

	"papertrader/internal/indicator"
	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

// RSIMAClass is the registry name of the reference strategy.
const RSIMAClass = "rsi_ma"

const (
	ReasonStopLoss       = "STOP_LOSS"
	ReasonTarget         = "TARGET_REACHED"
	ReasonRSIOverbought  = "RSI_OVERBOUGHT"
	ReasonRSIOversoldBuy = "RSI_OVERSOLD_ABOVE_MA"
)

// RSIMAParams configure the reference strategy.
type RSIMAParams struct {
	RSIPeriod   int
	MAPeriod    int
	Oversold    float64
	Overbought  float64
	MinVolume   float64
	StopLossPct float64
	TargetPct   float64
	MinHold     time.Duration
	Budget      float64
	Window      int
	Timeframe   time.Duration
}

// DefaultRSIMAParams returns the reference parameter set.
func DefaultRSIMAParams() RSIMAParams {
	return RSIMAParams{
		RSIPeriod:   14,
		MAPeriod:    20,
		Oversold:    30,
		Overbought:  70,
		StopLossPct: 0.02,
		TargetPct:   0.03,
		MinHold:     5 * time.Minute,
		Budget:      10_000,
		Window:      200,
		Timeframe:   time.Minute,
	}
}

// Validate checks if the params are usable.
func (p RSIMAParams) Validate() error {
	if p.RSIPeriod <= 0 || p.MAPeriod <= 0 {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "periods must be > 0")
	}
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "need 0 < oversold < overbought < 100")
	}
	if p.StopLossPct <= 0 || p.StopLossPct >= 1 {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "stop_loss_pct must be in (0, 1)")
	}
	if p.TargetPct <= 0 {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "target_pct must be > 0")
	}
	if p.MinHold < 0 {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "min_hold must be >= 0")
	}
	if p.Budget <= 0 {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "budget must be > 0")
	}
	if p.Window < p.RSIPeriod+1 || p.Window < p.MAPeriod {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "window shorter than indicator periods")
	}
	if p.Timeframe <= 0 {
		return errors.Wrap(exception.ErrInvalidStrategyParam, "timeframe must be > 0")
	}
	return nil
}

// RSIMA buys oversold dips that still trade above their moving average.
type RSIMA struct {
	*Base
	params  RSIMAParams
	windows map[string][]schema.Candle
}

// NewRSIMA builds the reference strategy from its config entry.
func NewRSIMA(cfg Config) (Strategy, error) {
	params, err := parseRSIMAParams(cfg.Params)
	if err != nil {
		return nil, err
	}
	return NewRSIMAWithParams(cfg.ID, cfg.Symbols, params), nil
}

// NewRSIMAWithParams builds the reference strategy from typed params.
func NewRSIMAWithParams(id string, symbols []string, params RSIMAParams) *RSIMA {
	return &RSIMA{
		Base:    NewBase(id, symbols),
		params:  params,
		windows: make(map[string][]schema.Candle),
	}
}

func parseRSIMAParams(p Params) (RSIMAParams, error) {
	out := DefaultRSIMAParams()
	var err error
	if out.RSIPeriod, err = p.Int("rsi_period", out.RSIPeriod); err != nil {
		return out, err
	}
	if out.MAPeriod, err = p.Int("ma_period", out.MAPeriod); err != nil {
		return out, err
	}
	if out.Oversold, err = p.Float("oversold", out.Oversold); err != nil {
		return out, err
	}
	if out.Overbought, err = p.Float("overbought", out.Overbought); err != nil {
		return out, err
	}
	if out.MinVolume, err = p.Float("min_volume", out.MinVolume); err != nil {
		return out, err
	}
	if out.StopLossPct, err = p.Float("stop_loss_pct", out.StopLossPct); err != nil {
		return out, err
	}
	if out.TargetPct, err = p.Float("target_pct", out.TargetPct); err != nil {
		return out, err
	}
	if out.MinHold, err = p.Duration("min_hold", out.MinHold); err != nil {
		return out, err
	}
	if out.Budget, err = p.Float("budget", out.Budget); err != nil {
		return out, err
	}
	if out.Window, err = p.Int("window", out.Window); err != nil {
		return out, err
	}
	if out.Timeframe, err = p.Duration("timeframe", out.Timeframe); err != nil {
		return out, err
	}
	return out, nil
}

// Params returns the strategy parameters.
func (s *RSIMA) Params() RSIMAParams {
	return s.params
}

func (s *RSIMA) Initialize() error {
	if len(s.Symbols()) == 0 {
		return errors.Wrapf(exception.ErrStrategyNoSymbols, "strategy %s", s.ID())
	}
	return s.params.Validate()
}

func (s *RSIMA) RequiredWarmup() int {
	return max(s.params.RSIPeriod+1, s.params.MAPeriod)
}

func (s *RSIMA) OnTick(tick schema.Tick) error {
	s.Dispatch(tick, s)
	return nil
}

func (s *RSIMA) OnWarmupCandle(candle schema.Candle) {
	if !s.Subscribed(candle.Symbol) {
		return
	}
	s.push(candle)
	if candle.Close > 0 {
		s.ObservePrice(candle.Symbol, candle.Close)
	}
}

func (s *RSIMA) OnCandleComplete(candle schema.Candle) {
	s.push(candle)
}

func (s *RSIMA) push(candle schema.Candle) {
	if !s.Subscribed(candle.Symbol) {
		return
	}
	if candle.Timeframe != 0 && candle.Timeframe != s.params.Timeframe {
		return
	}
	w := append(s.windows[candle.Symbol], candle)
	if len(w) > s.params.Window {
		w = w[len(w)-s.params.Window:]
	}
	s.windows[candle.Symbol] = w
}

// Indicators returns the current RSI and MA for symbol.
func (s *RSIMA) Indicators(symbol string) (rsi, ma float64, ok bool) {
	closes := indicator.Closes(s.windows[symbol])
	rsi, rsiOK := indicator.RSI(closes, s.params.RSIPeriod)
	ma, maOK := indicator.SMA(closes, s.params.MAPeriod)
	return rsi, ma, rsiOK && maOK
}

func (s *RSIMA) CheckEntryConditions(symbol string, tick schema.Tick) *schema.Signal {
	if !s.WarmedUp() || tick.Price <= 0 {
		return nil
	}
	if _, held := s.Position(symbol); held {
		return nil
	}
	rsi, ma, ok := s.Indicators(symbol)
	if !ok {
		return nil
	}
	volume := s.lastVolume(symbol)
	if rsi >= s.params.Oversold || tick.Price <= ma || volume <= s.params.MinVolume {
		return nil
	}

	qty := int64(math.Floor(s.params.Budget / tick.Price))
	if qty < 1 {
		qty = 1
	}
	return &schema.Signal{
		StrategyID: s.ID(),
		Action:     schema.ActionBuy,
		Symbol:     symbol,
		Price:      tick.Price,
		Quantity:   qty,
		Timestamp:  tick.Timestamp,
		Reason:     ReasonRSIOversoldBuy,
		Indicators: map[string]float64{"rsi": rsi, "ma": ma, "volume": volume},
	}
}

func (s *RSIMA) CheckExitConditions(symbol string, tick schema.Tick) *schema.Signal {
	h, held := s.Position(symbol)
	if !held || tick.Price <= 0 {
		return nil
	}

	exit := func(reason string, indicators map[string]float64) *schema.Signal {
		return &schema.Signal{
			StrategyID: s.ID(),
			Action:     schema.ActionSell,
			Symbol:     symbol,
			Price:      tick.Price,
			Quantity:   h.Quantity,
			Timestamp:  tick.Timestamp,
			Reason:     reason,
			Indicators: indicators,
		}
	}

	stop := h.EntryPrice * (1 - s.params.StopLossPct)
	if tick.Price <= stop {
		return exit(ReasonStopLoss, map[string]float64{"stop": stop})
	}

	if tick.Timestamp.Sub(h.EntryTime) < s.params.MinHold {
		return nil
	}

	gain := (tick.Price - h.EntryPrice) / h.EntryPrice
	if gain >= s.params.TargetPct {
		return exit(ReasonTarget, map[string]float64{"gain_pct": gain * 100})
	}

	rsi, ma, ok := s.Indicators(symbol)
	if ok && rsi > s.params.Overbought && tick.Price > h.EntryPrice {
		return exit(ReasonRSIOverbought, map[string]float64{"rsi": rsi, "ma": ma})
	}
	return nil
}

func (s *RSIMA) lastVolume(symbol string) float64 {
	w := s.windows[symbol]
	if len(w) == 0 {
		return 0
	}
	return float64(w[len(w)-1].Volume)
}

func (s *RSIMA) String() string {
	return fmt.Sprintf("%s(%s rsi=%d ma=%d)", RSIMAClass, s.ID(), s.params.RSIPeriod, s.params.MAPeriod)
}
