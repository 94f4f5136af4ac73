package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	_ "modernc.org/sqlite"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ohlcv (
	symbol TEXT NOT NULL,
	day    TEXT NOT NULL,
	ts     INTEGER NOT NULL,
	open   REAL NOT NULL,
	high   REAL NOT NULL,
	low    REAL NOT NULL,
	close  REAL NOT NULL,
	volume INTEGER NOT NULL,
	PRIMARY KEY (symbol, ts)
);
CREATE INDEX IF NOT EXISTS idx_ohlcv_day ON ohlcv (day, symbol);
`

// SQLiteProvider reads the ohlcv table of a sqlite file. ts is unix milliseconds.
type SQLiteProvider struct {
	db  *sql.DB
	loc *time.Location
}

var (
	_ Provider = (*SQLiteProvider)(nil)
	_ Writer   = (*SQLiteProvider)(nil)
)

// OpenSQLite opens (and creates when missing) the sqlite file at path.
func OpenSQLite(ctx context.Context, path string, loc *time.Location) (*SQLiteProvider, error) {
	if path == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty sqlite path")
	}
	if loc == nil {
		loc = time.UTC
	}
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrDatabaseConnection, "open sqlite %s: %s", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(exception.ErrDatabaseConnection, "migrate sqlite %s: %s", path, err)
	}
	logs.Debugf("sqlite history opened at %s", path)
	return &SQLiteProvider{db: db, loc: loc}, nil
}

func (p *SQLiteProvider) Store(ctx context.Context, candles []schema.Candle) error {
	for _, c := range candles {
		if err := checkCandle(c); err != nil {
			return err
		}
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin store")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO ohlcv (symbol, day, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare store")
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, DayKey(c.Start, p.loc), c.Start.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "store %s %s", c.Symbol, c.Start.Format(time.RFC3339))
		}
	}
	return tx.Commit()
}

func (p *SQLiteProvider) GetData(ctx context.Context, date time.Time, symbols []string) ([]schema.Candle, error) {
	if err := checkSymbols(symbols); err != nil {
		return nil, err
	}

	args := make([]any, 0, len(symbols)+1)
	args = append(args, DayKey(date, p.loc))
	for _, s := range symbols {
		args = append(args, s)
	}
	query := `SELECT symbol, ts, open, high, low, close, volume FROM ohlcv WHERE day = ? AND symbol IN (?` +
		strings.Repeat(", ?", len(symbols)-1) + `) ORDER BY ts, symbol`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query candles")
	}
	defer rows.Close()

	out := make([]schema.Candle, 0, 512)
	for rows.Next() {
		var (
			symbol                 string
			ts, volume             int64
			open, high, low, close float64
		)
		if err := rows.Scan(&symbol, &ts, &open, &high, &low, &close, &volume); err != nil {
			return nil, errors.Wrap(err, "scan candle")
		}
		out = append(out, minuteCandle(symbol, time.UnixMilli(ts).In(p.loc), open, high, low, close, volume))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate candles")
	}
	if len(out) == 0 {
		return nil, noData(date, symbols)
	}
	return out, nil
}

func (p *SQLiteProvider) GetStatistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{Dates: []string{}, Symbols: []Coverage{}}

	dayRows, err := p.db.QueryContext(ctx, `SELECT DISTINCT day FROM ohlcv ORDER BY day`)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "query days")
	}
	defer dayRows.Close()
	for dayRows.Next() {
		var day string
		if err := dayRows.Scan(&day); err != nil {
			return Statistics{}, errors.Wrap(err, "scan day")
		}
		stats.Dates = append(stats.Dates, day)
	}
	if err := dayRows.Err(); err != nil {
		return Statistics{}, errors.Wrap(err, "iterate days")
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT symbol, MIN(ts), MAX(ts), COUNT(DISTINCT day), COUNT(*) FROM ohlcv GROUP BY symbol ORDER BY symbol`)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "query coverage")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cov         Coverage
			first, last int64
		)
		if err := rows.Scan(&cov.Symbol, &first, &last, &cov.Days, &cov.Candles); err != nil {
			return Statistics{}, errors.Wrap(err, "scan coverage")
		}
		cov.First = time.UnixMilli(first).In(p.loc)
		cov.Last = time.UnixMilli(last).In(p.loc)
		stats.Symbols = append(stats.Symbols, cov)
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, errors.Wrap(err, "iterate coverage")
	}
	return stats, nil
}

func (p *SQLiteProvider) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
