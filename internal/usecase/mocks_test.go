package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
)

type candleKey struct {
	source, instrument, timeframe string
	bucket                        time.Time
}

// memStore is an in-memory CandleStore with overlap detection and
// per-method failure injection.
type memStore struct {
	mu         sync.Mutex
	candles    map[candleKey]models.Candle
	indicators map[candleKey]*models.IndicatorSet

	inFlight    int32
	maxInFlight int32

	failInsertFor     map[string]error // instrument -> error
	failIndicatorsFor map[string]error
	insertCalls       int
	indicatorInserts  []*models.IndicatorSet
}

func newMemStore() *memStore {
	return &memStore{
		candles:           make(map[candleKey]models.Candle),
		indicators:        make(map[candleKey]*models.IndicatorSet),
		failInsertFor:     make(map[string]error),
		failIndicatorsFor: make(map[string]error),
	}
}

func (m *memStore) enter() func() {
	n := atomic.AddInt32(&m.inFlight, 1)
	for {
		max := atomic.LoadInt32(&m.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&m.maxInFlight, max, n) {
			break
		}
	}
	return func() { atomic.AddInt32(&m.inFlight, -1) }
}

func (m *memStore) InsertCandles(ctx context.Context, candles []models.Candle) error {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	for _, c := range candles {
		if err, ok := m.failInsertFor[c.Instrument]; ok {
			return err
		}
	}
	for _, c := range candles {
		m.candles[candleKey{c.Source, c.Instrument, c.Timeframe, c.Bucket.UTC()}] = c
	}
	return nil
}

func (m *memStore) queryCandles(source, instrument string, tf domrepo.Timeframe, from, to time.Time) []models.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Candle
	for key, c := range m.candles {
		if key.source != source || key.instrument != instrument || key.timeframe != string(tf) {
			continue
		}
		if key.bucket.Before(from) || !key.bucket.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}

func (m *memStore) QueryCandles(ctx context.Context, source, instrument string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	defer m.enter()()
	return m.queryCandles(source, instrument, tf, from, to), nil
}

func (m *memStore) LatestCandles(ctx context.Context, source, instrument string, tf domrepo.Timeframe, n int) ([]models.Candle, error) {
	defer m.enter()()
	all := m.queryCandles(source, instrument, tf, time.Time{}, time.Unix(1<<40, 0))
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *memStore) LatestCandleBucket(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (time.Time, error) {
	defer m.enter()()
	all := m.queryCandles(source, instrument, tf, time.Time{}, time.Unix(1<<40, 0))
	if len(all) == 0 {
		return time.Time{}, nil
	}
	return all[len(all)-1].Bucket, nil
}

func (m *memStore) InsertIndicators(ctx context.Context, set *models.IndicatorSet) error {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failIndicatorsFor[set.Instrument]; ok {
		return err
	}
	cp := *set
	cp.Values = make(map[string]float64, len(set.Values))
	for k, v := range set.Values {
		cp.Values[k] = v
	}
	m.indicators[candleKey{set.Source, set.Instrument, set.Timeframe, set.Bucket.UTC()}] = &cp
	m.indicatorInserts = append(m.indicatorInserts, &cp)
	return nil
}

func (m *memStore) latestIndicatorBucket(source, instrument string, tf domrepo.Timeframe) time.Time {
	var latest time.Time
	for key := range m.indicators {
		if key.source == source && key.instrument == instrument && key.timeframe == string(tf) && key.bucket.After(latest) {
			latest = key.bucket
		}
	}
	return latest
}

func (m *memStore) LatestIndicatorBucket(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (time.Time, error) {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestIndicatorBucket(source, instrument, tf), nil
}

func (m *memStore) LatestIndicators(ctx context.Context, source, instrument string, tf domrepo.Timeframe) (*models.IndicatorSet, error) {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.latestIndicatorBucket(source, instrument, tf)
	if bucket.IsZero() {
		return nil, nil
	}
	return m.indicators[candleKey{source, instrument, string(tf), bucket}], nil
}

func (m *memStore) Health(ctx context.Context) error { return nil }
func (m *memStore) Close() error                     { return nil }

func (m *memStore) candleCount(instrument string, tf domrepo.Timeframe) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.candles {
		if key.instrument == instrument && key.timeframe == string(tf) {
			n++
		}
	}
	return n
}

func (m *memStore) indicatorBuckets(instrument string, tf domrepo.Timeframe) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for key := range m.indicators {
		if key.instrument == instrument && key.timeframe == string(tf) {
			out = append(out, key.bucket)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// fakeSource serves canned candles per instrument and counts calls.
type fakeSource struct {
	mu      sync.Mutex
	candles map[string][]models.Candle
	fail    map[string]error
	calls   map[string][]int // instrument -> requested limits
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		candles: make(map[string][]models.Candle),
		fail:    make(map[string]error),
		calls:   make(map[string][]int),
	}
}

func (f *fakeSource) Name() string { return "binance" }

func (f *fakeSource) FetchOHLCV(ctx context.Context, instrument string, tf domrepo.Timeframe, since time.Time, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[instrument] = append(f.calls[instrument], limit)
	if err, ok := f.fail[instrument]; ok {
		return nil, err
	}
	all := f.candles[instrument]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.Candle, len(all))
	copy(out, all)
	return out, nil
}

type recordedEvent struct {
	ev *models.CandleEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakePublisher) PublishCandleEvent(ctx context.Context, ev *models.CandleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{ev: ev})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordCandlesSynced(source, instrument, timeframe string, n int) {}
func (nopMetrics) RecordBucketsAggregated(timeframe string, n int)                 {}
func (nopMetrics) RecordIndicatorSet(source, instrument, timeframe string)         {}
func (nopMetrics) RecordError(kind string)                                         {}
func (nopMetrics) RecordTickSkipped(job string)                                    {}
func (nopMetrics) RecordTickDuration(job string, seconds float64)                  {}

// makeMinuteCandles builds n consecutive 1m candles ending before end.
func makeMinuteCandles(source, instrument string, end time.Time, n int) []models.Candle {
	start := end.Add(-time.Duration(n) * time.Minute)
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		out = append(out, models.Candle{
			Source:      source,
			Instrument:  instrument,
			Timeframe:   "1m",
			Bucket:      start.Add(time.Duration(i) * time.Minute),
			Open:        price,
			High:        price + 1,
			Low:         price - 1,
			Close:       price + 0.5,
			BaseVolume:  1,
			QuoteVolume: price,
			TradeCount:  10,
		})
	}
	return out
}

func mustNoOverlap(maxInFlight int32) error {
	if maxInFlight > 1 {
		return fmt.Errorf("max in-flight store calls = %d, want 1", maxInFlight)
	}
	return nil
}
