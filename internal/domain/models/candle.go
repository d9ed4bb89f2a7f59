package models

import (
	"fmt"
	"time"
)

// Candle represents one OHLCV bar for (source, instrument, timeframe, bucket).
// Rows for the same key are merged by the store (last write wins), so a candle
// is always written with its full column set, never as a partial update.
type Candle struct {
	Source      string
	Instrument  string
	Timeframe   string
	Bucket      time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	BaseVolume  float64
	QuoteVolume float64
	TradeCount  uint64
	IsSynthetic bool
}

// Validate performs basic sanity checks on a candle fetched from a source.
// Rows failing validation are discarded before insert, not repaired.
func (c *Candle) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrMalformedData)
	}
	if c.Bucket.IsZero() {
		return fmt.Errorf("%w: zero bucket for %s", ErrMalformedData, c.Instrument)
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high %f < low %f for %s@%s",
			ErrMalformedData, c.High, c.Low, c.Instrument, c.Bucket.Format(time.RFC3339))
	}
	if c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("%w: open/close outside [low, high] for %s@%s",
			ErrMalformedData, c.Instrument, c.Bucket.Format(time.RFC3339))
	}
	if c.BaseVolume < 0 || c.QuoteVolume < 0 {
		return fmt.Errorf("%w: negative volume for %s@%s",
			ErrMalformedData, c.Instrument, c.Bucket.Format(time.RFC3339))
	}
	return nil
}

// Tick is a single trade observed on a live stream.
type Tick struct {
	Instrument string
	Timestamp  int64 // unix ms
	Price      float64
	Quantity   float64
}

// IndicatorSet is the complete set of indicator values computed for one
// bucket. A set is persisted atomically: either every value is written or
// none are.
type IndicatorSet struct {
	Source     string
	Instrument string
	Timeframe  string
	Bucket     time.Time
	Values     map[string]float64
	ComputedAt time.Time
}

// CandleEvent is published after a successful sync so downstream consumers
// can react without polling the store.
type CandleEvent struct {
	Source     string    `json:"source"`
	Instrument string    `json:"instrument"`
	Timeframe  string    `json:"timeframe"`
	Bucket     time.Time `json:"bucket"`
	Count      int       `json:"count"`
	SyncedAt   time.Time `json:"synced_at"`
}
