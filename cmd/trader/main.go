package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"papertrader/internal/bus"
	"papertrader/internal/candle"
	"papertrader/internal/core"
	"papertrader/internal/history"
	"papertrader/internal/monitor"
	"papertrader/internal/obs"
	"papertrader/internal/og"
	"papertrader/internal/ops"
	"papertrader/internal/risk"
	"papertrader/internal/schema"
	"papertrader/internal/session"
	"papertrader/internal/simulator"
	"papertrader/internal/sink"
	"papertrader/internal/state"
	"papertrader/internal/stoploss"
	"papertrader/internal/strategy"
	"papertrader/pkg/exception"
)

func main() {
	date := flag.String("date", "", "Trading date to replay (YYYY-MM-DD)")
	speed := flag.Float64("speed", -1, "Replay speed (1=real time, 0=no pacing, <0 keeps config)")
	configPath := flag.String("config", "", "Path to YAML config")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *date != "" {
		cfg.Date = *date
	}
	if *speed >= 0 {
		cfg.Speed = *speed
	}
	if cfg.Date == "" {
		log.Fatalf("config load failed: --date is required")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	stopProfiler, err := ops.StartProfiler(cfg.Pyroscope)
	if err != nil {
		log.Fatalf("profiler start failed: %v", err)
	}
	defer stopProfiler()

	ctx := context.Background()
	app, err := setup(ctx, cfg)
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}
	if err := app.run(ctx); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}

type app struct {
	cfg        ops.Config
	provider   history.Provider
	sim        *simulator.Simulator
	engine     *core.Engine
	queue      *bus.Queue
	dispatcher *sink.Dispatcher
	server     *monitor.Server
}

func setup(ctx context.Context, cfg ops.Config) (*app, error) {
	clock, err := session.NewController(cfg.SessionConfig())
	if err != nil {
		return nil, err
	}
	loc := clock.Location()
	day, err := history.ParseDay(cfg.Date, loc)
	if err != nil {
		return nil, err
	}

	strategies, err := strategy.Build(cfg.Strategies)
	if err != nil {
		return nil, err
	}
	manager := core.NewManager()
	for _, s := range strategies {
		if err := manager.Add(s); err != nil {
			return nil, err
		}
	}
	symbols := manager.Symbols()

	provider, err := history.Open(ctx, cfg.History, loc)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, provider: provider}
	ok := false
	defer func() {
		if !ok {
			_ = provider.Close()
		}
	}()

	stats, err := provider.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	if !stats.HasDate(day) {
		return nil, errors.Wrapf(exception.ErrNoData, "date %s not in history %v", cfg.Date, stats.Dates)
	}
	candles, err := provider.GetData(ctx, day, symbols)
	if err != nil {
		return nil, err
	}
	logs.Infof("loaded %d candles of %s for %v", len(candles), cfg.Date, symbols)

	aggregator, err := candle.NewAggregator(cfg.AggregatorConfig(loc))
	if err != nil {
		return nil, err
	}
	warmup(ctx, provider, stats, day, loc, cfg.Warmup.MinCandles, strategies, symbols, aggregator)

	emergency, err := risk.NewEmergencyExit(cfg.EmergencyConfig())
	if err != nil {
		return nil, err
	}
	riskManager, err := risk.NewManager(cfg.RiskConfig(), risk.NewDeduplicator(cfg.Risk.DuplicateWindow), emergency)
	if err != nil {
		return nil, err
	}
	broker, err := og.NewSimBroker(cfg.BrokerConfig())
	if err != nil {
		return nil, err
	}
	orders, err := og.NewOrderManager(cfg.OrderConfig(), broker)
	if err != nil {
		return nil, err
	}
	stopCfg, err := cfg.StopLossConfig()
	if err != nil {
		return nil, err
	}
	stops, err := stoploss.NewManager(stopCfg)
	if err != nil {
		return nil, err
	}

	sinks, err := sink.Open(ctx, cfg.Sinks)
	if err != nil {
		return nil, err
	}
	metrics := obs.NewMetrics()
	a.queue = bus.NewQueue(cfg.Sinks.Queue())
	a.dispatcher = sink.NewDispatcher(sink.DispatcherConfig{WriteTimeout: cfg.Sinks.WriteTimeout}, a.queue, metrics, sinks...)

	store := monitor.NewStore()
	if cfg.Monitor.Enabled {
		a.server = monitor.NewServer(cfg.Monitor, store, metrics)
	}

	a.engine, err = core.NewEngine(cfg.EngineConfig(), core.Deps{
		Strategies: manager,
		Aggregator: aggregator,
		Session:    clock,
		Risk:       riskManager,
		Orders:     orders,
		Positions:  state.NewPositionManager(),
		Stops:      stops,
		Events:     a.queue,
		Publisher:  store,
		Metrics:    metrics,
	})
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}

	a.sim, err = simulator.New(cfg.SimulatorConfig(), candles)
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}
	ok = true
	return a, nil
}

// warmup primes strategies and the aggregator from the previous trading day. Missing history only warns.
func warmup(ctx context.Context, provider history.Provider, stats history.Statistics, day time.Time, loc *time.Location,
	minimum int, strategies []strategy.Strategy, symbols []string, aggregator *candle.Aggregator) {
	w := core.NewWarmupManager(minimum)
	required := w.RequiredWarmup(strategies)

	var candles []schema.Candle
	prev, ok := stats.PreviousDate(day)
	if !ok {
		logs.Warnf("warmup skipped, err: %+v", exception.ErrNoWarmupHistory)
	} else if prevDay, err := history.ParseDay(prev, loc); err != nil {
		logs.Warnf("warmup skipped, err: %+v", err)
	} else if candles, err = provider.GetData(ctx, prevDay, symbols); err != nil {
		logs.Warnf("warmup from %s skipped, err: %+v", prev, err)
		candles = nil
	}

	candles = w.Tail(candles, required)
	report := w.WarmupStrategies(strategies, candles)
	bySymbol := make(map[string][]schema.Candle, len(symbols))
	for _, c := range candles {
		bySymbol[c.Symbol] = append(bySymbol[c.Symbol], c)
	}
	for sym, cs := range bySymbol {
		aggregator.SeedBars(sym, cs)
	}
	if len(report.Incomplete) > 0 {
		logs.Warnf("warmup incomplete for %v", report.Incomplete)
	}
}

func (a *app) run(ctx context.Context) error {
	defer a.provider.Close()

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	a.dispatcher.Start(dispatchCtx)
	if a.server != nil {
		a.server.Start()
	}

	go func() {
		select {
		case <-sys.Shutdown():
			logs.Warnf("shutdown requested, stopping replay")
			a.sim.Stop()
		case <-ctx.Done():
		}
	}()

	started := time.Now()
	logs.Infof("replay %s at speed %.2f, symbols %v", a.cfg.Date, a.cfg.Speed, a.sim.Symbols())
	runErr := a.sim.Run(ctx, func(tick schema.Tick) error {
		return a.engine.OnTick(ctx, tick)
	})

	snap := a.engine.Finish()
	snap.Date = a.cfg.Date
	if err := state.WriteSnapshot(a.cfg.Snapshot.Path, snap); err != nil {
		logs.Errorf("write snapshot %s, err: %+v", a.cfg.Snapshot.Path, err)
	}

	a.queue.Close()
	a.dispatcher.Wait()
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logs.Warnf("monitor shutdown, err: %+v", err)
		}
		cancel()
	}

	progress := a.sim.Progress()
	logs.Infof("replay %s %s: ticks=%d positions=%d realized=%.2f unrealized=%.2f cash=%.2f elapsed=%s",
		a.cfg.Date, progress.State, progress.TicksSent, len(snap.Positions), snap.RealizedPnL, snap.UnrealizedPnL, snap.Cash, time.Since(started))
	return runErr
}

func closeSinks(sinks []sink.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
