package usecase

import (
	"context"
	"fmt"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	"CandleSync/internal/service/indicator"
	"CandleSync/pkg/cache"
	applogger "CandleSync/pkg/logger"
)

// PairState tracks how far a (instrument, timeframe) pair has progressed.
type PairState string

const (
	StateCold       PairState = "COLD"
	StateCatchingUp PairState = "CATCHING_UP"
	StateCurrent    PairState = "CURRENT"
)

// IndicatorConfig carries the indicator scheduler knobs.
type IndicatorConfig struct {
	Source       string
	Instruments  []string
	Timeframes   []domrepo.Timeframe
	Interval     time.Duration
	InitialDelay time.Duration
	Lookback     int
	CatchUpLimit int
	CacheTTL     time.Duration
}

type pairKey struct {
	instrument string
	timeframe  domrepo.Timeframe
}

type pairProgress struct {
	state  PairState
	cursor time.Time // last bucket with a durable indicator set, zero when unknown
}

// IndicatorScheduler walks candle history per (instrument, timeframe)
// pair and writes one indicator set per closed bucket. Progress is
// derived from the store on startup, so a restart resumes where the
// previous run stopped rather than recomputing everything.
type IndicatorScheduler struct {
	store      domrepo.CandleStore
	cacheStore cache.Service
	metrics    domrepo.Metrics
	l          *applogger.Logger
	cfg        IndicatorConfig

	indicators []*indicator.Indicator
	warmupMax  int
	pairs      map[pairKey]*pairProgress
	now        func() time.Time
}

type IndicatorOption func(*IndicatorScheduler)

func WithIndicatorClock(now func() time.Time) IndicatorOption {
	return func(s *IndicatorScheduler) { s.now = now }
}

func NewIndicatorScheduler(
	store domrepo.CandleStore,
	cacheStore cache.Service,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	cfg IndicatorConfig,
	indicators []*indicator.Indicator,
	opts ...IndicatorOption,
) *IndicatorScheduler {
	warmupMax := 0
	for _, in := range indicators {
		if w := in.WarmUp(); w > warmupMax {
			warmupMax = w
		}
	}

	s := &IndicatorScheduler{
		store:      store,
		cacheStore: cacheStore,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
		indicators: indicators,
		warmupMax:  warmupMax,
		pairs:      make(map[pairKey]*pairProgress),
		now:        time.Now,
	}
	for _, instrument := range cfg.Instruments {
		for _, tf := range cfg.Timeframes {
			s.pairs[pairKey{instrument, tf}] = &pairProgress{state: StateCold}
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the evaluation loop until ctx is cancelled. The initial
// delay gives the sync scheduler a head start so the first pass finds
// candles to work with.
func (s *IndicatorScheduler) Run(ctx context.Context) error {
	if s.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.InitialDelay):
		}
	}

	s.l.Info("indicator scheduler started",
		applogger.Int("pairs", len(s.pairs)),
		applogger.Int("indicators", len(s.indicators)),
		applogger.Int("warmup_max", s.warmupMax),
	)

	s.EvaluateCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.l.Info("indicator scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.EvaluateCycle(ctx)
			select {
			case <-ticker.C:
				s.l.Warn("indicator cycle overran interval, skipping tick")
				s.metrics.RecordTickSkipped("indicators")
			default:
			}
		}
	}
}

// EvaluateCycle advances every pair once, sequentially and in configured
// order. A pair that fails keeps its cursor so the same bucket is retried
// next cycle; other pairs are unaffected.
func (s *IndicatorScheduler) EvaluateCycle(ctx context.Context) {
	start := s.now()
	for _, instrument := range s.cfg.Instruments {
		for _, tf := range s.cfg.Timeframes {
			if ctx.Err() != nil {
				return
			}
			if err := s.evaluatePair(ctx, instrument, tf); err != nil {
				s.l.Error("pair evaluation failed",
					applogger.String("instrument", instrument),
					applogger.String("tf", string(tf)),
					applogger.Error(err),
				)
				s.metrics.RecordError(errorKind(err))
			}
		}
	}
	s.metrics.RecordTickDuration("indicators", s.now().Sub(start).Seconds())
}

func (s *IndicatorScheduler) evaluatePair(ctx context.Context, instrument string, tf domrepo.Timeframe) error {
	progress := s.pairs[pairKey{instrument, tf}]

	if progress.state == StateCold && progress.cursor.IsZero() {
		cursor, err := s.store.LatestIndicatorBucket(ctx, s.cfg.Source, instrument, tf)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		progress.cursor = cursor
	}

	window, err := s.loadWindow(ctx, instrument, tf, progress.cursor)
	if err != nil {
		return err
	}
	if len(window) == 0 {
		return nil
	}

	pending := s.pendingBuckets(window, progress.cursor)
	if len(pending) == 0 {
		progress.state = StateCurrent
		return s.refreshCache(ctx, instrument, tf)
	}
	if len(pending) > 1 {
		progress.state = StateCatchingUp
	}

	for _, bucket := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		values := s.computeAt(window, bucket)
		if len(values) > 0 {
			set := &models.IndicatorSet{
				Source:     s.cfg.Source,
				Instrument: instrument,
				Timeframe:  string(tf),
				Bucket:     bucket,
				Values:     values,
				ComputedAt: s.now().UTC(),
			}
			if err := s.store.InsertIndicators(ctx, set); err != nil {
				// cursor stays put, this bucket is retried next cycle
				return fmt.Errorf("store indicators at %s: %w", bucket.Format(time.RFC3339), err)
			}
			s.metrics.RecordIndicatorSet(s.cfg.Source, instrument, string(tf))
		}
		progress.cursor = bucket
	}

	progress.state = StateCurrent
	return s.refreshCache(ctx, instrument, tf)
}

// loadWindow fetches the candles needed to evaluate pending buckets. With
// no cursor the pair is new, so the window is simply the most recent
// candles up to the catch-up limit. With a cursor the window starts far
// enough before it that the slowest indicator still has full warm-up.
func (s *IndicatorScheduler) loadWindow(ctx context.Context, instrument string, tf domrepo.Timeframe, cursor time.Time) ([]models.Candle, error) {
	if cursor.IsZero() {
		window, err := s.store.LatestCandles(ctx, s.cfg.Source, instrument, tf, s.cfg.CatchUpLimit)
		if err != nil {
			return nil, fmt.Errorf("load window: %w", err)
		}
		return window, nil
	}

	from := cursor.Add(-time.Duration(s.warmupMax) * tf.Duration())
	to := tf.Truncate(s.now()).Add(tf.Duration())
	window, err := s.store.QueryCandles(ctx, s.cfg.Source, instrument, tf, from, to)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	return window, nil
}

// pendingBuckets lists window buckets past the cursor that have fully
// elapsed. The forming bucket is always excluded so values never change
// retroactively once written.
func (s *IndicatorScheduler) pendingBuckets(window []models.Candle, cursor time.Time) []time.Time {
	now := s.now()
	out := make([]time.Time, 0, len(window))
	for _, c := range window {
		tf := domrepo.Timeframe(c.Timeframe)
		if !c.Bucket.After(cursor) {
			continue
		}
		if c.Bucket.Add(tf.Duration()).After(now) {
			continue
		}
		out = append(out, c.Bucket)
	}
	return out
}

// computeAt evaluates every indicator against the window prefix ending at
// bucket. Indicators below their warm-up are omitted, not zero-filled.
func (s *IndicatorScheduler) computeAt(window []models.Candle, bucket time.Time) map[string]float64 {
	end := -1
	for i, c := range window {
		if c.Bucket.After(bucket) {
			break
		}
		end = i
	}
	if end < 0 {
		return nil
	}
	history := window[:end+1]
	if len(history) > s.cfg.Lookback {
		history = history[len(history)-s.cfg.Lookback:]
	}

	values := make(map[string]float64)
	for _, in := range s.indicators {
		for name, v := range in.Compute(history) {
			values[name] = v
		}
	}
	return values
}

func (s *IndicatorScheduler) refreshCache(ctx context.Context, instrument string, tf domrepo.Timeframe) error {
	if s.cacheStore == nil {
		return nil
	}
	set, err := s.store.LatestIndicators(ctx, s.cfg.Source, instrument, tf)
	if err != nil {
		return fmt.Errorf("load latest indicators: %w", err)
	}
	if set == nil {
		return nil
	}
	key := IndicatorCacheKey(s.cfg.Source, instrument, tf)
	if err := s.cacheStore.Set(ctx, key, set, s.cfg.CacheTTL); err != nil {
		// cache is an accelerator, the store remains authoritative
		s.l.Warn("indicator cache refresh failed",
			applogger.String("key", key),
			applogger.Error(err),
		)
	}
	return nil
}

// PairStates reports the current state per pair, for health endpoints.
func (s *IndicatorScheduler) PairStates() map[string]string {
	out := make(map[string]string, len(s.pairs))
	for key, progress := range s.pairs {
		out[key.instrument+":"+string(key.timeframe)] = string(progress.state)
	}
	return out
}

// IndicatorCacheKey is the cache key for a pair's newest indicator set.
func IndicatorCacheKey(source, instrument string, tf domrepo.Timeframe) string {
	return fmt.Sprintf("indicators:%s:%s:%s", source, instrument, tf)
}
