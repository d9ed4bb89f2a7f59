package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	pkgch "CandleSync/pkg/clickhouse"
	applogger "CandleSync/pkg/logger"
)

// CHCandleStore implements CandleStore backed by ClickHouse.
//
// Candle tables are ReplacingMergeTree keyed by (source, instrument,
// bucket): the last write for a key wins after background compaction, which
// is why producers always write the full column set and why re-fetching an
// overlapping window is safe. Queries read with FINAL so callers see the
// merged logical row even before compaction runs.
type CHCandleStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, database string, l *applogger.Logger) *CHCandleStore {
	return &CHCandleStore{db: ch.DB(), database: database, l: l}
}

func (s *CHCandleStore) InsertCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	table, err := s.tableForTF(domrepo.Timeframe(candles[0].Timeframe))
	if err != nil {
		return err
	}

	values := make([]string, 0, len(candles))
	args := make([]interface{}, 0, len(candles)*11)
	for _, c := range candles {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		synthetic := uint8(0)
		if c.IsSynthetic {
			synthetic = 1
		}
		args = append(args,
			c.Bucket,
			c.Source,
			c.Instrument,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.BaseVolume,
			c.QuoteVolume,
			c.TradeCount,
			synthetic,
		)
	}

	q := fmt.Sprintf(`INSERT INTO %s
        (bucket, source, instrument, open, high, low, close, base_volume, quote_volume, trade_count, is_synthetic)
        VALUES %s`, table, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse insert_candles error",
			applogger.String("table", table),
			applogger.Int("rows", len(candles)),
			applogger.Error(err),
		)
		return fmt.Errorf("insert candles: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *CHCandleStore) QueryCandles(ctx context.Context, source, instrument string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	table, err := s.tableForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT bucket, source, instrument, open, high, low, close, base_volume, quote_volume, trade_count, is_synthetic
        FROM %s FINAL
        WHERE source = ? AND instrument = ? AND bucket >= ? AND bucket < ?
        ORDER BY bucket ASC`, table)
	rows, err := s.db.QueryContext(ctx, q, source, instrument, from, to)
	if err != nil {
		s.l.Error("clickhouse query_candles error",
			applogger.String("table", table),
			applogger.String("instrument", instrument),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("query candles: %w: %w", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return s.scanCandles(rows, tf)
}

func (s *CHCandleStore) LatestCandles(ctx context.Context, source, instrument string, tf domrepo.Timeframe, n int) ([]models.Candle, error) {
	table, err := s.tableForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT bucket, source, instrument, open, high, low, close, base_volume, quote_volume, trade_count, is_synthetic
        FROM %s FINAL
        WHERE source = ? AND instrument = ?
        ORDER BY bucket DESC
        LIMIT ?`, table)
	rows, err := s.db.QueryContext(ctx, q, source, instrument, n)
	if err != nil {
		s.l.Error("clickhouse latest_candles error",
			applogger.String("table", table),
			applogger.String("instrument", instrument),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("latest candles: %w: %w", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out, err := s.scanCandles(rows, tf)
	if err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleStore) LatestCandleBucket(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (time.Time, error) {
	table, err := s.tableForTF(tf)
	if err != nil {
		return time.Time{}, err
	}
	q := fmt.Sprintf(`SELECT max(bucket) FROM %s WHERE source = ? AND instrument = ?`, table)
	var bucket sql.NullTime
	if err := s.db.QueryRowContext(ctx, q, source, instrument).Scan(&bucket); err != nil {
		return time.Time{}, fmt.Errorf("latest candle bucket: %w: %w", models.ErrStoreUnavailable, err)
	}
	if !bucket.Valid {
		return time.Time{}, nil
	}
	return bucket.Time.UTC(), nil
}

func (s *CHCandleStore) InsertIndicators(ctx context.Context, set *models.IndicatorSet) error {
	if set == nil || len(set.Values) == 0 {
		return nil
	}

	// One multi-row insert so the bucket's value set lands atomically.
	names := make([]string, 0, len(set.Values))
	for name := range set.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names)*7)
	for _, name := range names {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			set.Bucket,
			set.Source,
			set.Instrument,
			set.Timeframe,
			name,
			set.Values[name],
			set.ComputedAt,
		)
	}

	q := fmt.Sprintf(`INSERT INTO %s.indicators
        (bucket, source, instrument, timeframe, name, value, computed_at)
        VALUES %s`, s.database, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse insert_indicators error",
			applogger.String("instrument", set.Instrument),
			applogger.String("tf", set.Timeframe),
			applogger.Int("values", len(set.Values)),
			applogger.Error(err),
		)
		return fmt.Errorf("insert indicators: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *CHCandleStore) LatestIndicatorBucket(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (time.Time, error) {
	q := fmt.Sprintf(`SELECT max(bucket) FROM %s.indicators WHERE source = ? AND instrument = ? AND timeframe = ?`, s.database)
	var bucket sql.NullTime
	if err := s.db.QueryRowContext(ctx, q, source, instrument, string(tf)).Scan(&bucket); err != nil {
		return time.Time{}, fmt.Errorf("latest indicator bucket: %w: %w", models.ErrStoreUnavailable, err)
	}
	if !bucket.Valid {
		return time.Time{}, nil
	}
	return bucket.Time.UTC(), nil
}

func (s *CHCandleStore) LatestIndicators(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (*models.IndicatorSet, error) {
	q := fmt.Sprintf(`
        SELECT bucket, name, value, computed_at
        FROM %s.indicators FINAL
        WHERE source = ? AND instrument = ? AND timeframe = ?
          AND bucket = (SELECT max(bucket) FROM %s.indicators WHERE source = ? AND instrument = ? AND timeframe = ?)`,
		s.database, s.database)
	rows, err := s.db.QueryContext(ctx, q, source, instrument, string(tf), source, instrument, string(tf))
	if err != nil {
		return nil, fmt.Errorf("latest indicators: %w: %w", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	set := &models.IndicatorSet{
		Source:     source,
		Instrument: instrument,
		Timeframe:  string(tf),
		Values:     make(map[string]float64),
	}
	for rows.Next() {
		var (
			name       string
			value      float64
			bucket     time.Time
			computedAt time.Time
		)
		if err := rows.Scan(&bucket, &name, &value, &computedAt); err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		set.Bucket = bucket.UTC()
		set.ComputedAt = computedAt.UTC()
		set.Values[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(set.Values) == 0 {
		return nil, nil
	}
	return set, nil
}

func (s *CHCandleStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHCandleStore) Close() error {
	return nil // connection owned by pkg client
}

func (s *CHCandleStore) scanCandles(rows *sql.Rows, tf domrepo.Timeframe) ([]models.Candle, error) {
	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var (
			c         models.Candle
			bucket    time.Time
			synthetic uint8
		)
		if err := rows.Scan(&bucket, &c.Source, &c.Instrument, &c.Open, &c.High, &c.Low, &c.Close,
			&c.BaseVolume, &c.QuoteVolume, &c.TradeCount, &synthetic); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = bucket.UTC()
		c.Timeframe = string(tf)
		c.IsSynthetic = synthetic != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHCandleStore) tableForTF(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF1m:
		return s.database + ".candles_1m", nil
	case domrepo.TF5m:
		return s.database + ".candles_5m", nil
	case domrepo.TF1h:
		return s.database + ".candles_1h", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}
