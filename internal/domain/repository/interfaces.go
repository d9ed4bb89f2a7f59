package repository

import (
	"context"
	"time"

	"CandleSync/internal/domain/models"
)

// CandleStore is the time-series store boundary. Inserts are idempotent
// under the store's merge-on-key policy; queries must never run concurrently
// on one logical connection (see the serial gate).
type CandleStore interface {
	InsertCandles(ctx context.Context, candles []models.Candle) error
	QueryCandles(ctx context.Context, source, instrument string, tf Timeframe, from, to time.Time) ([]models.Candle, error)
	LatestCandles(ctx context.Context, source, instrument string, tf Timeframe, n int) ([]models.Candle, error)
	LatestCandleBucket(ctx context.Context, source, instrument string, tf Timeframe) (time.Time, error)

	InsertIndicators(ctx context.Context, set *models.IndicatorSet) error
	LatestIndicatorBucket(ctx context.Context, source, instrument string, tf Timeframe) (time.Time, error)
	LatestIndicators(ctx context.Context, source, instrument string, tf Timeframe) (*models.IndicatorSet, error)

	Health(ctx context.Context) error
	Close() error
}

// Source fetches authoritative OHLCV bars from an exchange REST API.
// A zero since means "the most recent limit bars". Implementations may
// return fewer rows than limit near the source's history boundary.
type Source interface {
	Name() string
	FetchOHLCV(ctx context.Context, instrument string, tf Timeframe, since time.Time, limit int) ([]models.Candle, error)
}

// TickStream streams live trades from an exchange WebSocket.
type TickStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// EventPublisher publishes candle refresh events for downstream consumers.
type EventPublisher interface {
	PublishCandleEvent(ctx context.Context, ev *models.CandleEvent) error
	Close() error
}

type Metrics interface {
	RecordCandlesSynced(source, instrument, timeframe string, n int)
	RecordBucketsAggregated(timeframe string, n int)
	RecordIndicatorSet(source, instrument, timeframe string)
	RecordError(kind string)
	RecordTickSkipped(job string)
	RecordTickDuration(job string, seconds float64)
}
