/*
Core drives the strategies of one replay session.

# Module
  - strategy manager: single thread strategy invoker with per-strategy fault isolation
  - warmup manager: feeds earlier candles to strategies before live dispatch
  - engine: per-tick pipeline from session clock to risk, orders, positions and stops

# Source
 1. synthetic ticks from the market simulator
 2. closed candles from the candle aggregator

# Produce
  - orders to the order manager
  - events to the sink queue
  - read-only snapshots to the monitor
*/
package core
