package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"papertrader/internal/schema"
)

// Snapshot captures the position book at a point in time.
type Snapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	Date          string            `json:"date,omitempty"`
	Cash          float64           `json:"cash,omitempty"`
	Positions     []schema.Position `json:"positions"`
	RealizedPnL   float64           `json:"realized_pnl"`
	UnrealizedPnL float64           `json:"unrealized_pnl"`
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks if two snapshots hold the same rows.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	want := make(map[key]schema.Position, len(expected.Positions))
	for _, p := range expected.Positions {
		want[key{strategyID: p.StrategyID, symbol: p.Symbol}] = p
	}
	for _, p := range actual.Positions {
		w, ok := want[key{strategyID: p.StrategyID, symbol: p.Symbol}]
		if !ok {
			return fmt.Errorf("snapshot missing position: %s/%s", p.StrategyID, p.Symbol)
		}
		if w.Quantity != p.Quantity {
			return fmt.Errorf("snapshot qty mismatch: %s/%s expected=%d actual=%d", p.StrategyID, p.Symbol, w.Quantity, p.Quantity)
		}
	}
	return nil
}
