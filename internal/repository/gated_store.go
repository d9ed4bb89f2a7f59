package repository

import (
	"context"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	"CandleSync/internal/service/serial"
)

// GatedStore wraps a CandleStore so that at most one query is in flight
// at a time. Callers from different schedulers are served strictly in
// the order they arrived.
type GatedStore struct {
	inner domrepo.CandleStore
	gate  *serial.Gate
}

func NewGatedStore(inner domrepo.CandleStore, gate *serial.Gate) *GatedStore {
	return &GatedStore{inner: inner, gate: gate}
}

func (g *GatedStore) InsertCandles(ctx context.Context, candles []models.Candle) error {
	return g.gate.Do(ctx, func() error {
		return g.inner.InsertCandles(ctx, candles)
	})
}

func (g *GatedStore) QueryCandles(ctx context.Context, source, instrument string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	var out []models.Candle
	err := g.gate.Do(ctx, func() error {
		var err error
		out, err = g.inner.QueryCandles(ctx, source, instrument, tf, from, to)
		return err
	})
	return out, err
}

func (g *GatedStore) LatestCandles(ctx context.Context, source, instrument string, tf domrepo.Timeframe, n int) ([]models.Candle, error) {
	var out []models.Candle
	err := g.gate.Do(ctx, func() error {
		var err error
		out, err = g.inner.LatestCandles(ctx, source, instrument, tf, n)
		return err
	})
	return out, err
}

func (g *GatedStore) LatestCandleBucket(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (time.Time, error) {
	var out time.Time
	err := g.gate.Do(ctx, func() error {
		var err error
		out, err = g.inner.LatestCandleBucket(ctx, source, instrument, tf)
		return err
	})
	return out, err
}

func (g *GatedStore) InsertIndicators(ctx context.Context, set *models.IndicatorSet) error {
	return g.gate.Do(ctx, func() error {
		return g.inner.InsertIndicators(ctx, set)
	})
}

func (g *GatedStore) LatestIndicatorBucket(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (time.Time, error) {
	var out time.Time
	err := g.gate.Do(ctx, func() error {
		var err error
		out, err = g.inner.LatestIndicatorBucket(ctx, source, instrument, tf)
		return err
	})
	return out, err
}

func (g *GatedStore) LatestIndicators(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (*models.IndicatorSet, error) {
	var out *models.IndicatorSet
	err := g.gate.Do(ctx, func() error {
		var err error
		out, err = g.inner.LatestIndicators(ctx, source, instrument, tf)
		return err
	})
	return out, err
}

func (g *GatedStore) Health(ctx context.Context) error {
	return g.gate.Do(ctx, func() error {
		return g.inner.Health(ctx)
	})
}

func (g *GatedStore) Close() error {
	return g.inner.Close()
}
