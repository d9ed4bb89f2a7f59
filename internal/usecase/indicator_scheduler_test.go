package usecase

import (
	"context"
	"testing"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	"CandleSync/internal/service/indicator"
	"CandleSync/pkg/cache"
)

func testIndicators(t *testing.T) []*indicator.Indicator {
	t.Helper()
	sma, err := indicator.New("SMA_20", indicator.KindSMA, indicator.Params{Period: 20})
	if err != nil {
		t.Fatalf("sma: %v", err)
	}
	rsi, err := indicator.New("RSI_14", indicator.KindRSI, indicator.Params{Period: 14})
	if err != nil {
		t.Fatalf("rsi: %v", err)
	}
	return []*indicator.Indicator{sma, rsi}
}

func indicatorConfig(instruments ...string) IndicatorConfig {
	return IndicatorConfig{
		Source:       "binance",
		Instruments:  instruments,
		Timeframes:   []domrepo.Timeframe{domrepo.TF1m},
		Interval:     time.Minute,
		Lookback:     200,
		CatchUpLimit: 5000,
		CacheTTL:     time.Minute,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestCatchUpProcessesAllClosedBuckets(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	store := newMemStore()
	candles := makeMinuteCandles("binance", "BTCUSDT", now.Truncate(time.Minute), 500)
	if err := store.InsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewIndicatorScheduler(store, cache.NewMemoryCache(), nopMetrics{}, testLogger(t),
		indicatorConfig("BTCUSDT"), testIndicators(t), WithIndicatorClock(fixedClock(now)))
	s.EvaluateCycle(context.Background())

	// SMA_20 is the slowest qualifier at 20 candles, so the first 19
	// buckets produce something only once RSI_14 qualifies at 15.
	buckets := store.indicatorBuckets("BTCUSDT", domrepo.TF1m)
	if len(buckets) != 500-14 {
		t.Fatalf("indicator buckets = %d, want %d", len(buckets), 500-14)
	}
	if !buckets[len(buckets)-1].Equal(candles[len(candles)-1].Bucket) {
		t.Fatalf("last bucket = %v, want %v", buckets[len(buckets)-1], candles[len(candles)-1].Bucket)
	}

	if got := s.PairStates()["BTCUSDT:1m"]; got != string(StateCurrent) {
		t.Fatalf("state = %s, want CURRENT", got)
	}
}

func TestWarmUpGatesIndividualIndicators(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	store := newMemStore()
	// 16 candles: RSI_14 (warm-up 15) qualifies on the last two buckets,
	// SMA_20 never does.
	candles := makeMinuteCandles("binance", "BTCUSDT", now.Truncate(time.Minute), 16)
	if err := store.InsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewIndicatorScheduler(store, cache.NewMemoryCache(), nopMetrics{}, testLogger(t),
		indicatorConfig("BTCUSDT"), testIndicators(t), WithIndicatorClock(fixedClock(now)))
	s.EvaluateCycle(context.Background())

	for _, set := range store.indicatorInserts {
		if _, ok := set.Values["SMA_20"]; ok {
			t.Fatalf("SMA_20 present at %v with only 16 candles", set.Bucket)
		}
		if _, ok := set.Values["RSI_14"]; !ok {
			t.Fatalf("RSI_14 missing at %v", set.Bucket)
		}
	}
	if len(store.indicatorInserts) != 2 {
		t.Fatalf("inserts = %d, want 2", len(store.indicatorInserts))
	}
}

func TestFormingBucketExcluded(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	store := newMemStore()
	// last candle's bucket is 12:00, which has not elapsed at 12:00:30
	candles := makeMinuteCandles("binance", "BTCUSDT", now.Truncate(time.Minute).Add(time.Minute), 50)
	if err := store.InsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewIndicatorScheduler(store, cache.NewMemoryCache(), nopMetrics{}, testLogger(t),
		indicatorConfig("BTCUSDT"), testIndicators(t), WithIndicatorClock(fixedClock(now)))
	s.EvaluateCycle(context.Background())

	buckets := store.indicatorBuckets("BTCUSDT", domrepo.TF1m)
	forming := now.Truncate(time.Minute)
	for _, b := range buckets {
		if !b.Before(forming) {
			t.Fatalf("forming bucket %v was evaluated", b)
		}
	}
}

func TestStoreFailureRetriesSameBucket(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	store := newMemStore()
	candles := makeMinuteCandles("binance", "BTCUSDT", now.Truncate(time.Minute), 30)
	if err := store.InsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.failIndicatorsFor["BTCUSDT"] = models.ErrStoreUnavailable

	s := NewIndicatorScheduler(store, cache.NewMemoryCache(), nopMetrics{}, testLogger(t),
		indicatorConfig("BTCUSDT"), testIndicators(t), WithIndicatorClock(fixedClock(now)))
	s.EvaluateCycle(context.Background())

	if got := store.indicatorBuckets("BTCUSDT", domrepo.TF1m); len(got) != 0 {
		t.Fatalf("buckets written despite failure = %d", len(got))
	}

	// store recovers, the retried cycle must cover the same buckets
	delete(store.failIndicatorsFor, "BTCUSDT")
	s.EvaluateCycle(context.Background())
	buckets := store.indicatorBuckets("BTCUSDT", domrepo.TF1m)
	if len(buckets) != 30-14 {
		t.Fatalf("buckets after recovery = %d, want %d", len(buckets), 30-14)
	}
}

func TestResumeFromDurableCursor(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	store := newMemStore()
	candles := makeMinuteCandles("binance", "BTCUSDT", now.Truncate(time.Minute), 100)
	if err := store.InsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first := NewIndicatorScheduler(store, cache.NewMemoryCache(), nopMetrics{}, testLogger(t),
		indicatorConfig("BTCUSDT"), testIndicators(t), WithIndicatorClock(fixedClock(now)))
	first.EvaluateCycle(context.Background())
	written := len(store.indicatorBuckets("BTCUSDT", domrepo.TF1m))
	if written == 0 {
		t.Fatal("first run wrote nothing")
	}

	// a fresh scheduler simulates a restart; nothing new has closed, so
	// no bucket may be recomputed
	store.indicatorInserts = nil
	second := NewIndicatorScheduler(store, cache.NewMemoryCache(), nopMetrics{}, testLogger(t),
		indicatorConfig("BTCUSDT"), testIndicators(t), WithIndicatorClock(fixedClock(now)))
	second.EvaluateCycle(context.Background())
	if len(store.indicatorInserts) != 0 {
		t.Fatalf("restart recomputed %d buckets", len(store.indicatorInserts))
	}
}

func TestLatestSetCached(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	store := newMemStore()
	candles := makeMinuteCandles("binance", "BTCUSDT", now.Truncate(time.Minute), 50)
	if err := store.InsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mem := cache.NewMemoryCache()

	s := NewIndicatorScheduler(store, mem, nopMetrics{}, testLogger(t),
		indicatorConfig("BTCUSDT"), testIndicators(t), WithIndicatorClock(fixedClock(now)))
	s.EvaluateCycle(context.Background())

	var cached models.IndicatorSet
	key := IndicatorCacheKey("binance", "BTCUSDT", domrepo.TF1m)
	if err := mem.Get(context.Background(), key, &cached); err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if len(cached.Values) == 0 {
		t.Fatal("cached set has no values")
	}
	if !cached.Bucket.Equal(candles[len(candles)-1].Bucket) {
		t.Fatalf("cached bucket = %v, want %v", cached.Bucket, candles[len(candles)-1].Bucket)
	}
}
