package obs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "papertrader"

// Metrics collects pipeline counters for prometheus plus lightweight in-process latency stats.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	ticks            *prometheus.CounterVec
	signals          *prometheus.CounterVec
	riskRejects      *prometheus.CounterVec
	orders           *prometheus.CounterVec
	strategyFailures *prometheus.CounterVec
	stopUpdates      prometheus.Counter
	stopHits         prometheus.Counter
	queueDrops       prometheus.Counter
	sinkErrors       *prometheus.CounterVec
	realizedPnL      prometheus.Gauge
	unrealizedPnL    prometheus.Gauge
	openPositions    prometheus.Gauge
	tickDuration     prometheus.Histogram

	tickCount       uint64
	signalCount     uint64
	rejectCount     uint64
	filledCount     uint64
	orderRejects    uint64
	failureCount    uint64
	stopHitCount    uint64
	queueDropCount  uint64
	queueClosed     uint64
	sinkErrorCount  uint64
	tickLatency     LatencyStats
	riskEvalLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current counter values.
type Snapshot struct {
	Ticks            uint64          `json:"ticks"`
	Signals          uint64          `json:"signals"`
	RiskRejects      uint64          `json:"risk_rejects"`
	OrdersFilled     uint64          `json:"orders_filled"`
	OrdersRejected   uint64          `json:"orders_rejected"`
	StrategyFailures uint64          `json:"strategy_failures"`
	StopHits         uint64          `json:"stop_hits"`
	QueueDrops       uint64          `json:"queue_drops"`
	QueueClosed      uint64          `json:"queue_closed"`
	SinkErrors       uint64          `json:"sink_errors"`
	TickLatency      LatencySnapshot `json:"tick_latency"`
	RiskEvalLatency  LatencySnapshot `json:"risk_eval_latency"`
}

// NewMetrics allocates a metrics container registered on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total", Help: "Simulated ticks processed",
		}, []string{"symbol"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total", Help: "Signals collected from strategies",
		}, []string{"strategy", "action"}),
		riskRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_rejects_total", Help: "Signals rejected by risk checks",
		}, []string{"reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total", Help: "Orders by final status",
		}, []string{"action", "status"}),
		strategyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "strategy_failures_total", Help: "Isolated strategy errors and panics",
		}, []string{"strategy"}),
		stopUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stop_loss_updates_total", Help: "Trailing stop tightenings",
		}),
		stopHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stop_loss_hits_total", Help: "Trailing stops hit",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_queue_drops_total", Help: "Events dropped on a full queue",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total", Help: "Discarded sink failures",
		}, []string{"sink"}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realized_pnl", Help: "Realized P&L of the session",
		}),
		unrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "unrealized_pnl", Help: "Mark-to-market P&L of open positions",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions", Help: "Open position rows",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds", Help: "Pipeline time per tick",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	m.registry.MustRegister(
		m.ticks, m.signals, m.riskRejects, m.orders, m.strategyFailures,
		m.stopUpdates, m.stopHits, m.queueDrops, m.sinkErrors,
		m.realizedPnL, m.unrealizedPnL, m.openPositions, m.tickDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTick counts a tick and its pipeline duration.
func (m *Metrics) ObserveTick(symbol string, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tickCount, 1)
	m.ticks.WithLabelValues(symbol).Inc()
	m.tickDuration.Observe(d.Seconds())
	m.tickLatency.Observe(d)
}

// IncSignal counts a collected signal.
func (m *Metrics) IncSignal(strategyID, action string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signalCount, 1)
	m.signals.WithLabelValues(strategyID, action).Inc()
}

// IncRiskReject counts a rejected signal by reason.
func (m *Metrics) IncRiskReject(reason string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rejectCount, 1)
	m.riskRejects.WithLabelValues(reason).Inc()
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// IncOrder counts an order outcome.
func (m *Metrics) IncOrder(action, status string) {
	if m == nil {
		return
	}
	switch status {
	case "FILLED":
		atomic.AddUint64(&m.filledCount, 1)
	case "REJECTED":
		atomic.AddUint64(&m.orderRejects, 1)
	}
	m.orders.WithLabelValues(action, status).Inc()
}

// IncStrategyFailure counts an isolated strategy error.
func (m *Metrics) IncStrategyFailure(strategyID string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.failureCount, 1)
	m.strategyFailures.WithLabelValues(strategyID).Inc()
}

// IncStopUpdate counts a stop tightening.
func (m *Metrics) IncStopUpdate() {
	if m == nil {
		return
	}
	m.stopUpdates.Inc()
}

// IncStopHit counts a stop hit.
func (m *Metrics) IncStopHit() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.stopHitCount, 1)
	m.stopHits.Inc()
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDropCount, 1)
	m.queueDrops.Inc()
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncSinkError records a discarded sink failure.
func (m *Metrics) IncSinkError(sink string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sinkErrorCount, 1)
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetBook updates the P&L and position gauges.
func (m *Metrics) SetBook(realized, unrealized float64, open int) {
	if m == nil {
		return
	}
	m.realizedPnL.Set(realized)
	m.unrealizedPnL.Set(unrealized)
	m.openPositions.Set(float64(open))
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Ticks:            atomic.LoadUint64(&m.tickCount),
		Signals:          atomic.LoadUint64(&m.signalCount),
		RiskRejects:      atomic.LoadUint64(&m.rejectCount),
		OrdersFilled:     atomic.LoadUint64(&m.filledCount),
		OrdersRejected:   atomic.LoadUint64(&m.orderRejects),
		StrategyFailures: atomic.LoadUint64(&m.failureCount),
		StopHits:         atomic.LoadUint64(&m.stopHitCount),
		QueueDrops:       atomic.LoadUint64(&m.queueDropCount),
		QueueClosed:      atomic.LoadUint64(&m.queueClosed),
		SinkErrors:       atomic.LoadUint64(&m.sinkErrorCount),
		TickLatency:      m.tickLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
