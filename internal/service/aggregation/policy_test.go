package aggregation

import (
	"math"
	"testing"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
)

func baseCandle(min int, open, high, low, close, vol float64) models.Candle {
	return models.Candle{
		Source:      "binance",
		Instrument:  "BTCUSDT",
		Timeframe:   "1m",
		Bucket:      time.Date(2024, 10, 10, 16, min, 0, 0, time.UTC),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       close,
		BaseVolume:  vol,
		QuoteVolume: vol * open,
		TradeCount:  10,
	}
}

func fiveMinuteWindow() []models.Candle {
	vols := []float64{0.06, 0.04, 0.02, 0.10, 0.05}
	out := make([]models.Candle, 0, 5)
	for i, v := range vols {
		out = append(out, baseCandle(25+i, 100+float64(i), 110+float64(i), 90+float64(i), 105+float64(i), v))
	}
	return out
}

func TestRollupFiveMinuteBucket(t *testing.T) {
	got := Rollup(fiveMinuteWindow(), domrepo.TF5m)
	if len(got) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(got))
	}
	c := got[0]
	if !c.Bucket.Equal(time.Date(2024, 10, 10, 16, 25, 0, 0, time.UTC)) {
		t.Fatalf("wrong bucket: %v", c.Bucket)
	}
	if c.Open != 100 {
		t.Fatalf("open should come from earliest candle, got %f", c.Open)
	}
	if c.Close != 109 {
		t.Fatalf("close should come from latest candle, got %f", c.Close)
	}
	if c.High != 114 || c.Low != 90 {
		t.Fatalf("extremes wrong: high=%f low=%f", c.High, c.Low)
	}
	if math.Abs(c.BaseVolume-0.27) > 1e-12 {
		t.Fatalf("volume should sum to 0.27, got %f", c.BaseVolume)
	}
	if c.TradeCount != 50 {
		t.Fatalf("trade count should sum to 50, got %d", c.TradeCount)
	}
}

// Re-running the rollup over overlapping subsets must yield the same bucket
// as one pass over the full set: the bucket is recomputed wholesale each
// time, so sums never double-count.
func TestRollupIdempotentOverOverlappingWindows(t *testing.T) {
	window := fiveMinuteWindow()

	full := Rollup(window, domrepo.TF5m)[0]
	// Second pass over a trailing overlap, then recomputed from the full set
	// again, the way the scheduler re-aggregates after an incremental sync.
	_ = Rollup(window[2:], domrepo.TF5m)
	again := Rollup(window, domrepo.TF5m)[0]

	if full.BaseVolume != again.BaseVolume || full.TradeCount != again.TradeCount {
		t.Fatalf("re-aggregation changed sums: %f vs %f", full.BaseVolume, again.BaseVolume)
	}
	if full != again {
		t.Fatalf("re-aggregation not deterministic: %+v vs %+v", full, again)
	}
}

func TestRollupSkipsEmptyBuckets(t *testing.T) {
	// Candles in two non-adjacent 5m buckets; nothing in between is emitted.
	window := []models.Candle{
		baseCandle(25, 100, 110, 90, 105, 0.1),
		baseCandle(40, 100, 110, 90, 105, 0.1),
	}
	got := Rollup(window, domrepo.TF5m)
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(got))
	}
}

func TestRollupEmptyInput(t *testing.T) {
	if got := Rollup(nil, domrepo.TF5m); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestRollupSyntheticFlag(t *testing.T) {
	window := fiveMinuteWindow()
	for i := range window {
		window[i].IsSynthetic = true
	}
	if got := Rollup(window, domrepo.TF5m); !got[0].IsSynthetic {
		t.Fatalf("all-synthetic contributors should produce a synthetic bucket")
	}

	window[2].IsSynthetic = false
	if got := Rollup(window, domrepo.TF5m); got[0].IsSynthetic {
		t.Fatalf("one real contributor makes the bucket real")
	}
}

func TestRollupUnsortedInput(t *testing.T) {
	window := fiveMinuteWindow()
	window[0], window[4] = window[4], window[0]
	c := Rollup(window, domrepo.TF5m)[0]
	if c.Open != 100 || c.Close != 109 {
		t.Fatalf("open/close must follow bucket order, not input order: open=%f close=%f", c.Open, c.Close)
	}
}

func TestCoveringRange(t *testing.T) {
	window := []models.Candle{baseCandle(27, 1, 1, 1, 1, 0), baseCandle(33, 1, 1, 1, 1, 0)}
	from, to, ok := CoveringRange(window, domrepo.TF5m)
	if !ok {
		t.Fatalf("expected covering range")
	}
	wantFrom := time.Date(2024, 10, 10, 16, 25, 0, 0, time.UTC)
	wantTo := time.Date(2024, 10, 10, 16, 35, 0, 0, time.UTC)
	if !from.Equal(wantFrom) || !to.Equal(wantTo) {
		t.Fatalf("range [%v, %v), want [%v, %v)", from, to, wantFrom, wantTo)
	}
	if _, _, ok := CoveringRange(nil, domrepo.TF5m); ok {
		t.Fatalf("empty input should not produce a range")
	}
}
