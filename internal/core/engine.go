package core

import (
	"context"
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papertrader/internal/bus"
	"papertrader/internal/candle"
	"papertrader/internal/indicator"
	"papertrader/internal/obs"
	"papertrader/internal/og"
	"papertrader/internal/risk"
	"papertrader/internal/schema"
	"papertrader/internal/session"
	"papertrader/internal/state"
	"papertrader/internal/stoploss"
	"papertrader/pkg/exception"
)

const (
	ReasonTrailingStop = "TRAILING_STOP_HIT"
	ReasonSquareOff    = "TIME_SQUARE_OFF"
)

const (
	defaultIndicatorTimeframe = time.Minute
	defaultATRPeriod          = 14
	defaultMAPeriod           = 20
	defaultRecentTrades       = 50
)

// Emitter accepts events for the sinks without blocking.
type Emitter interface {
	Publish(kind schema.EventKind, symbol string, ts time.Time, payload any) error
}

// Publisher receives a fresh snapshot after every tick.
type Publisher interface {
	Publish(snapshot Snapshot)
}

// EngineConfig tunes the pipeline.
type EngineConfig struct {
	// IndicatorTimeframe is the candle series used for stop inputs.
	IndicatorTimeframe time.Duration
	ATRPeriod          int
	MAPeriod           int
	// RecentTrades bounds the trades kept for snapshots.
	RecentTrades int
	// SkipTickEvents keeps tick events out of the sinks.
	SkipTickEvents bool
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.IndicatorTimeframe <= 0 {
		c.IndicatorTimeframe = defaultIndicatorTimeframe
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = defaultATRPeriod
	}
	if c.MAPeriod <= 0 {
		c.MAPeriod = defaultMAPeriod
	}
	if c.RecentTrades <= 0 {
		c.RecentTrades = defaultRecentTrades
	}
	return c
}

// Deps are the collaborators of the engine. Aggregator, Events, Publisher and Metrics are optional.
type Deps struct {
	Strategies *Manager
	Aggregator *candle.Aggregator
	Session    *session.Controller
	Risk       *risk.Manager
	Orders     *og.OrderManager
	Positions  *state.PositionManager
	Stops      *stoploss.Manager
	Events     Emitter
	Publisher  Publisher
	Metrics    *obs.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Strategies == nil:
		return errors.Wrap(exception.ErrNilInstance, "strategy manager")
	case d.Session == nil:
		return errors.Wrap(exception.ErrNilInstance, "session controller")
	case d.Risk == nil:
		return errors.Wrap(exception.ErrNilInstance, "risk manager")
	case d.Orders == nil:
		return errors.Wrap(exception.ErrNilInstance, "order manager")
	case d.Positions == nil:
		return errors.Wrap(exception.ErrNilInstance, "position manager")
	case d.Stops == nil:
		return errors.Wrap(exception.ErrNilInstance, "stop loss manager")
	}
	return nil
}

// Engine runs the per-tick pipeline. It is driven by a single goroutine.
type Engine struct {
	cfg EngineConfig
	Deps

	rounds *obs.RoundGenerator
	now    time.Time
	prices map[string]float64
	trades []schema.Trade
}

// NewEngine wires the pipeline and subscribes strategies to closed candles.
func NewEngine(cfg EngineConfig, deps Deps) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg.withDefaults(),
		Deps:   deps,
		rounds: obs.NewRoundGenerator(0),
		prices: make(map[string]float64),
	}
	if deps.Aggregator != nil {
		deps.Aggregator.OnClosed(deps.Strategies.OnCandleComplete)
	}
	deps.Strategies.OnFailure(func(id string, _ error) {
		e.Metrics.IncStrategyFailure(id)
	})
	if em := deps.Risk.Emergency(); em != nil {
		em.OnTrigger(func(total float64, at time.Time) {
			e.emit(schema.EventSession, "", at, schema.SessionEvent{
				State:  risk.EmergencyTriggered.String(),
				Detail: risk.ReasonEmergencyExit,
			})
		})
	}
	return e, nil
}

// OnTick runs one tick through the pipeline. Failures inside are logged and never abort the run.
func (e *Engine) OnTick(ctx context.Context, tick schema.Tick) error {
	start := time.Now()
	defer func() { e.Metrics.ObserveTick(tick.Symbol, time.Since(start)) }()

	e.now = tick.Timestamp
	e.prices[tick.Symbol] = tick.Price
	if !e.cfg.SkipTickEvents {
		e.emit(schema.EventTick, tick.Symbol, tick.Timestamp, tick)
	}

	actions := e.Session.CheckTime(tick.Timestamp)
	if actions.WarningIssued {
		e.emit(schema.EventSession, "", tick.Timestamp, schema.SessionEvent{State: session.StateWarned.String(), Detail: "new entries blocked"})
	}

	if e.Aggregator != nil {
		e.Aggregator.OnTick(tick)
	}

	e.Positions.MarkPrice(tick.Symbol, tick.Price)

	var forced []schema.Signal
	if em := e.Risk.Emergency(); em != nil {
		if em.UpdatePnL(e.Positions.RealizedPnL(), e.Positions.UnrealizedPnL(), tick.Timestamp) {
			forced = append(forced, em.CloseAllPositions(e.Positions.Positions(), tick.Timestamp)...)
			logs.Errorf("emergency exit: liquidating %d positions", len(forced))
		} else if em.Triggered() && e.Positions.Count() > 0 {
			// Liquidation repeats every tick until the book is flat.
			forced = append(forced, em.CloseAllPositions(e.Positions.Positions(), tick.Timestamp)...)
		}
	}

	forced = append(forced, e.checkStops(tick)...)

	e.Strategies.ProcessTick(tick)

	if actions.SquareOffDue {
		squareOff := e.Strategies.SquareOffAll(ReasonSquareOff, tick.Timestamp)
		logs.Warnf("session square off at %s: %d positions", tick.Timestamp.In(e.Session.Location()).Format(time.TimeOnly), len(squareOff))
		e.emit(schema.EventSession, "", tick.Timestamp, schema.SessionEvent{State: session.StateSquaredOff.String(), Detail: ReasonSquareOff})
		forced = append(forced, squareOff...)
	}

	e.round(ctx, forced)
	e.Strategies.ClearAllSignals()
	e.publish()
	return nil
}

// Finish closes forming candles, publishes the final book and returns it.
func (e *Engine) Finish() state.Snapshot {
	if e.Aggregator != nil {
		e.Aggregator.Flush()
		e.Strategies.ClearAllSignals()
	}
	snap := e.Positions.Snapshot(e.now)
	snap.Cash = e.Orders.Cash()
	e.emit(schema.EventPositionSnapshot, "", e.now, e.Positions.Summary())
	e.emit(schema.EventSession, "", e.now, schema.SessionEvent{State: "DONE"})
	e.publish()
	return snap
}

// Trades returns the most recent trades, oldest first.
func (e *Engine) Trades() []schema.Trade {
	return append([]schema.Trade(nil), e.trades...)
}

func (e *Engine) round(ctx context.Context, forced []schema.Signal) {
	type pending struct {
		sig    schema.Signal
		forced bool
	}
	collected := e.Strategies.AllSignals()
	if len(forced)+len(collected) == 0 {
		return
	}
	queue := make([]pending, 0, len(forced)+len(collected))
	for _, sig := range forced {
		queue = append(queue, pending{sig: sig, forced: true})
	}
	for _, sig := range collected {
		queue = append(queue, pending{sig: sig})
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].sig.Priority > queue[j].sig.Priority
	})

	id := e.rounds.Next()
	for _, p := range queue {
		e.execute(ctx, id, p.sig, p.forced)
	}
}

func (e *Engine) execute(ctx context.Context, round uint64, sig schema.Signal, forced bool) {
	e.Metrics.IncSignal(sig.StrategyID, sig.Action.String())
	e.emit(schema.EventSignal, sig.Symbol, sig.Timestamp, sig)

	switch sig.Action {
	case schema.ActionBuy:
		if !forced && e.Session.NewEntriesBlocked() {
			e.rejected(round, sig, risk.ReasonNewEntriesBlocked)
			return
		}
	case schema.ActionSell:
		held, ok := e.Positions.Position(sig.StrategyID, sig.Symbol)
		if !ok {
			e.rejected(round, sig, risk.ReasonNoPosition)
			return
		}
		if sig.Quantity > held.Quantity {
			logs.Warnf("clamp %s sell %s from %d to held %d", sig.StrategyID, sig.Symbol, sig.Quantity, held.Quantity)
			sig.Quantity = held.Quantity
		}
	}

	evalStart := time.Now()
	decision := e.Risk.ValidateSignal(sig, e.Positions.ForStrategy(sig.StrategyID), e.Positions.Positions())
	e.Metrics.ObserveRiskEval(time.Since(evalStart))
	if !decision.Approved {
		e.rejected(round, sig, decision.Reason)
		return
	}
	if decision.AdjustedQuantity > 0 {
		e.emit(schema.EventRiskDecision, sig.Symbol, sig.Timestamp, schema.RiskDecision{
			Round: round, Signal: sig, Approved: true, AdjustedQuantity: decision.AdjustedQuantity,
		})
	}
	sig.Quantity = decision.Quantity(sig)

	order := e.Orders.ExecuteSignal(ctx, sig)
	e.Metrics.IncOrder(order.Action.String(), order.Status.String())
	if order.Status != schema.OrderStatusFilled {
		logs.Warnf("order %s %s %s not filled: %s (%s)", order.ID, order.Action, order.Symbol, order.Status, order.Reason)
		return
	}

	res, err := e.Positions.Update(order)
	if err != nil {
		logs.Errorf("update position for order %s, err: %+v", order.ID, err)
		return
	}
	e.Risk.RecordTrade(res.RealizedPnL, order.FilledAt)
	e.applyToStrategy(order, res)
	e.applyToStops(order, res)

	trade := schema.Trade{Round: round, Order: order, RealizedPnL: res.RealizedPnL, Reason: sig.Reason}
	e.trades = append(e.trades, trade)
	if len(e.trades) > e.cfg.RecentTrades {
		e.trades = e.trades[len(e.trades)-e.cfg.RecentTrades:]
	}
	logs.Infof("trade %s %s %d %s @ %.2f pnl %.2f (%s)", order.StrategyID, order.Action, order.FilledQuantity, order.Symbol, order.FilledPrice, res.RealizedPnL, sig.Reason)
	e.emit(schema.EventTrade, order.Symbol, order.FilledAt, trade)
	e.emit(schema.EventPositionSnapshot, "", order.FilledAt, e.Positions.Summary())
}

func (e *Engine) rejected(round uint64, sig schema.Signal, reason risk.Reason) {
	e.Metrics.IncRiskReject(reason.String())
	logs.Debugf("signal %s %s %s %d rejected: %s", sig.StrategyID, sig.Action, sig.Symbol, sig.Quantity, reason)
	e.emit(schema.EventRiskDecision, sig.Symbol, sig.Timestamp, schema.RiskDecision{
		Round: round, Signal: sig, Approved: false, Reason: reason.String(),
	})
}

func (e *Engine) applyToStrategy(order schema.Order, res state.Result) {
	s, ok := e.Strategies.Get(order.StrategyID)
	if !ok {
		return
	}
	switch {
	case order.Action == schema.ActionBuy:
		s.AddPosition(order.Symbol, order.FilledQuantity, order.FilledPrice, order.FilledAt)
	case res.Closed:
		s.RemovePosition(order.Symbol)
	default:
		s.ReducePosition(order.Symbol, order.FilledQuantity)
	}
}

func (e *Engine) applyToStops(order schema.Order, res state.Result) {
	if order.Action == schema.ActionSell {
		if res.Closed {
			e.Stops.Remove(order.StrategyID, order.Symbol)
		}
		return
	}
	if _, ok := e.Stops.Get(order.StrategyID, order.Symbol); ok {
		return
	}
	stop, err := e.Stops.Add(order.StrategyID, order.Symbol, order.FilledPrice, order.FilledAt, e.inputs(order.Symbol))
	if err != nil {
		logs.Errorf("add stop loss %s/%s, err: %+v", order.StrategyID, order.Symbol, err)
		return
	}
	e.emit(schema.EventStopLossUpdate, order.Symbol, order.FilledAt, stopUpdate(stop, 0))
}

func (e *Engine) checkStops(tick schema.Tick) []schema.Signal {
	var out []schema.Signal
	for _, stop := range e.Stops.ForSymbol(tick.Symbol) {
		prev := stop.CurrentSL
		_, changed, err := e.Stops.Update(stop.StrategyID, stop.Symbol, tick.Price, tick.Timestamp, e.inputs(tick.Symbol))
		if err != nil {
			logs.Errorf("update stop loss %s/%s, err: %+v", stop.StrategyID, stop.Symbol, err)
			continue
		}
		if changed {
			e.Metrics.IncStopUpdate()
			if cur, ok := e.Stops.Get(stop.StrategyID, stop.Symbol); ok {
				e.emit(schema.EventStopLossUpdate, stop.Symbol, tick.Timestamp, stopUpdate(cur, prev))
			}
		}

		wasHit := stop.State == stoploss.StateHit
		if !e.Stops.IsHit(stop.StrategyID, stop.Symbol, tick.Price) {
			continue
		}
		cur, _ := e.Stops.Get(stop.StrategyID, stop.Symbol)
		if !wasHit {
			e.Metrics.IncStopHit()
			logs.Warnf("stop hit %s/%s at %.2f (sl %.2f)", stop.StrategyID, stop.Symbol, tick.Price, cur.CurrentSL)
			e.emit(schema.EventStopLossUpdate, stop.Symbol, tick.Timestamp, stopUpdate(cur, cur.CurrentSL))
		}
		held, ok := e.Positions.Position(stop.StrategyID, stop.Symbol)
		if !ok {
			e.Stops.Remove(stop.StrategyID, stop.Symbol)
			continue
		}
		out = append(out, schema.Signal{
			StrategyID: stop.StrategyID,
			Action:     schema.ActionSell,
			Symbol:     stop.Symbol,
			Price:      tick.Price,
			Quantity:   held.Quantity,
			Timestamp:  tick.Timestamp,
			Reason:     ReasonTrailingStop,
			Priority:   schema.PriorityHigh,
		})
	}
	return out
}

func (e *Engine) inputs(symbol string) stoploss.Inputs {
	if e.Aggregator == nil {
		return stoploss.Inputs{}
	}
	var in stoploss.Inputs
	history := e.Aggregator.History(symbol, e.cfg.IndicatorTimeframe, max(e.cfg.ATRPeriod+1, e.cfg.MAPeriod))
	if atr, ok := indicator.ATR(history, e.cfg.ATRPeriod); ok {
		in.ATR = atr
	}
	if ma, ok := indicator.SMA(indicator.Closes(history), e.cfg.MAPeriod); ok {
		in.MA = ma
	}
	return in
}

func (e *Engine) emit(kind schema.EventKind, symbol string, ts time.Time, payload any) {
	if e.Events == nil {
		return
	}
	err := e.Events.Publish(kind, symbol, ts, payload)
	switch {
	case err == nil:
	case errors.Is(err, bus.ErrQueueFull):
		e.Metrics.IncQueueDrop()
	case errors.Is(err, bus.ErrQueueClosed):
		e.Metrics.IncQueueClosed()
	default:
		logs.Debugf("emit %s, err: %+v", kind, err)
	}
}

func (e *Engine) publish() {
	realized, unrealized := e.Positions.RealizedPnL(), e.Positions.UnrealizedPnL()
	e.Metrics.SetBook(realized, unrealized, e.Positions.Count())
	if e.Publisher == nil {
		return
	}
	e.Publisher.Publish(e.Snapshot())
}

func stopUpdate(s stoploss.Stop, previous float64) schema.StopLossUpdate {
	return schema.StopLossUpdate{
		StrategyID:   s.StrategyID,
		Symbol:       s.Symbol,
		Type:         s.Type.String(),
		State:        s.State.String(),
		EntryPrice:   s.EntryPrice,
		HighestPrice: s.HighestPrice,
		PreviousSL:   previous,
		CurrentSL:    s.CurrentSL,
	}
}
