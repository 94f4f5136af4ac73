package history

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrader/internal/schema"
	"papertrader/pkg/conn"
)

const storeBatchSize = 500

type candleRow struct {
	Symbol string    `gorm:"primaryKey;size:32"`
	Ts     time.Time `gorm:"primaryKey"`
	Day    string    `gorm:"size:10;index:idx_ohlcv_day"`
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

func (candleRow) TableName() string { return "ohlcv" }

type coverageRow struct {
	Symbol  string
	FirstTs time.Time
	LastTs  time.Time
	Days    int
	Candles int64
}

// PostgresProvider reads the ohlcv table through gorm.
type PostgresProvider struct {
	client *conn.Client
	loc    *time.Location
}

var (
	_ Provider = (*PostgresProvider)(nil)
	_ Writer   = (*PostgresProvider)(nil)
)

// NewPostgresProvider migrates the ohlcv table on client.
func NewPostgresProvider(ctx context.Context, client *conn.Client, loc *time.Location) (*PostgresProvider, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("postgres history: nil client")
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := client.Migrate(ctx, &candleRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate ohlcv")
	}
	return &PostgresProvider{client: client, loc: loc}, nil
}

func (p *PostgresProvider) db(ctx context.Context) *gorm.DB {
	return p.client.DB().WithContext(ctx)
}

func (p *PostgresProvider) Store(ctx context.Context, candles []schema.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		if err := checkCandle(c); err != nil {
			return err
		}
		rows = append(rows, candleRow{
			Symbol: c.Symbol,
			Ts:     c.Start.UTC(),
			Day:    DayKey(c.Start, p.loc),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	if err := p.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, storeBatchSize).Error; err != nil {
		return errors.Wrap(err, "store candles")
	}
	return nil
}

func (p *PostgresProvider) GetData(ctx context.Context, date time.Time, symbols []string) ([]schema.Candle, error) {
	if err := checkSymbols(symbols); err != nil {
		return nil, err
	}
	var rows []candleRow
	if err := p.db(ctx).
		Where("day = ? AND symbol IN ?", DayKey(date, p.loc), symbols).
		Order("ts, symbol").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query candles")
	}
	if len(rows) == 0 {
		return nil, noData(date, symbols)
	}
	out := make([]schema.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, minuteCandle(r.Symbol, r.Ts.In(p.loc), r.Open, r.High, r.Low, r.Close, r.Volume))
	}
	return out, nil
}

func (p *PostgresProvider) GetStatistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{Dates: []string{}, Symbols: []Coverage{}}
	if err := p.db(ctx).Model(&candleRow{}).Distinct("day").Order("day").Pluck("day", &stats.Dates).Error; err != nil {
		return Statistics{}, errors.Wrap(err, "query days")
	}

	var rows []coverageRow
	if err := p.db(ctx).Model(&candleRow{}).
		Select("symbol, MIN(ts) AS first_ts, MAX(ts) AS last_ts, COUNT(DISTINCT day) AS days, COUNT(*) AS candles").
		Group("symbol").
		Order("symbol").
		Scan(&rows).Error; err != nil {
		return Statistics{}, errors.Wrap(err, "query coverage")
	}
	for _, r := range rows {
		stats.Symbols = append(stats.Symbols, Coverage{
			Symbol:  r.Symbol,
			First:   r.FirstTs.In(p.loc),
			Last:    r.LastTs.In(p.loc),
			Days:    r.Days,
			Candles: r.Candles,
		})
	}
	return stats, nil
}

// Close closes the underlying client.
func (p *PostgresProvider) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
