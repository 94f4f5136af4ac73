package sink

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"papertrader/internal/schema"
	"papertrader/pkg/conn"
)

type tradeRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Seq         uint64 `gorm:"index"`
	Round       uint64
	OrderID     string `gorm:"size:36;uniqueIndex"`
	StrategyID  string `gorm:"size:64;index"`
	Symbol      string `gorm:"size:32;index"`
	Action      string `gorm:"size:8"`
	Quantity    int64
	Price       decimal.Decimal `gorm:"type:numeric(20,8)"`
	Notional    decimal.Decimal `gorm:"type:numeric(24,8)"`
	RealizedPnL decimal.Decimal `gorm:"type:numeric(24,8)"`
	Reason      string          `gorm:"size:64"`
	FilledAt    time.Time       `gorm:"index"`
}

func (tradeRow) TableName() string { return "trades" }

type positionSnapshotRow struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	Seq           uint64    `gorm:"index"`
	At            time.Time `gorm:"index"`
	OpenPositions int
	RealizedPnL   decimal.Decimal `gorm:"type:numeric(24,8)"`
	UnrealizedPnL decimal.Decimal `gorm:"type:numeric(24,8)"`
	Positions     string          `gorm:"type:jsonb"`
}

func (positionSnapshotRow) TableName() string { return "position_snapshots" }

type stopLossRow struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement"`
	Seq          uint64          `gorm:"index"`
	At           time.Time       `gorm:"index"`
	StrategyID   string          `gorm:"size:64;index"`
	Symbol       string          `gorm:"size:32;index"`
	Type         string          `gorm:"size:32"`
	State        string          `gorm:"size:32"`
	EntryPrice   decimal.Decimal `gorm:"type:numeric(20,8)"`
	HighestPrice decimal.Decimal `gorm:"type:numeric(20,8)"`
	PreviousSL   decimal.Decimal `gorm:"type:numeric(20,8)"`
	CurrentSL    decimal.Decimal `gorm:"type:numeric(20,8)"`
}

func (stopLossRow) TableName() string { return "sl_updates" }

// StoreSink persists trades, position snapshots and stop-loss updates. Other kinds are ignored.
type StoreSink struct {
	client *conn.Client
}

// NewStoreSink migrates the sink tables on client.
func NewStoreSink(ctx context.Context, client *conn.Client) (*StoreSink, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("store sink: nil client")
	}
	if err := client.Migrate(ctx, &tradeRow{}, &positionSnapshotRow{}, &stopLossRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate sink tables")
	}
	return &StoreSink{client: client}, nil
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, e schema.Event) error {
	row, err := rowFor(e)
	if err != nil || row == nil {
		return err
	}
	if err := s.client.DB().WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrapf(err, "insert %s event %d", e.Header.Kind, e.Header.Seq)
	}
	return nil
}

// Close closes the underlying client.
func (s *StoreSink) Close() error {
	return s.client.Close()
}

func rowFor(e schema.Event) (any, error) {
	switch p := e.Payload.(type) {
	case schema.Trade:
		return tradeRowOf(e.Header.Seq, p), nil
	case schema.PositionSnapshot:
		return positionRowOf(e.Header.Seq, e.Header.Timestamp, p)
	case schema.StopLossUpdate:
		return stopRowOf(e.Header.Seq, e.Header.Timestamp, p), nil
	}
	return nil, nil
}

func tradeRowOf(seq uint64, t schema.Trade) *tradeRow {
	price := decimal.NewFromFloat(t.Order.FilledPrice)
	qty := decimal.NewFromInt(t.Order.FilledQuantity)
	return &tradeRow{
		Seq:         seq,
		Round:       t.Round,
		OrderID:     t.Order.ID,
		StrategyID:  t.Order.StrategyID,
		Symbol:      t.Order.Symbol,
		Action:      t.Order.Action.String(),
		Quantity:    t.Order.FilledQuantity,
		Price:       price,
		Notional:    price.Mul(qty),
		RealizedPnL: decimal.NewFromFloat(t.RealizedPnL),
		Reason:      t.Reason,
		FilledAt:    t.Order.FilledAt,
	}
}

func positionRowOf(seq uint64, at time.Time, s schema.PositionSnapshot) (*positionSnapshotRow, error) {
	positions := s.Positions
	if positions == nil {
		positions = []schema.Position{}
	}
	body, err := sonic.ConfigStd.MarshalToString(positions)
	if err != nil {
		return nil, errors.Wrap(err, "encode positions")
	}
	return &positionSnapshotRow{
		Seq:           seq,
		At:            at,
		OpenPositions: len(s.Positions),
		RealizedPnL:   decimal.NewFromFloat(s.RealizedPnL),
		UnrealizedPnL: decimal.NewFromFloat(s.UnrealizedPnL),
		Positions:     body,
	}, nil
}

func stopRowOf(seq uint64, at time.Time, u schema.StopLossUpdate) *stopLossRow {
	return &stopLossRow{
		Seq:          seq,
		At:           at,
		StrategyID:   u.StrategyID,
		Symbol:       u.Symbol,
		Type:         u.Type,
		State:        u.State,
		EntryPrice:   decimal.NewFromFloat(u.EntryPrice),
		HighestPrice: decimal.NewFromFloat(u.HighestPrice),
		PreviousSL:   decimal.NewFromFloat(u.PreviousSL),
		CurrentSL:    decimal.NewFromFloat(u.CurrentSL),
	}
}
