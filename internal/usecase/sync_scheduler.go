package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	"CandleSync/internal/service/aggregation"
	applogger "CandleSync/pkg/logger"
)

// SyncConfig carries the scheduler knobs. Instruments keep their
// configured order: syncs run sequentially, one instrument at a time.
type SyncConfig struct {
	Source        string
	Instruments   []string
	BaseTimeframe domrepo.Timeframe
	Targets       []domrepo.Timeframe
	Interval      time.Duration
	BackfillCount int
	RefreshCount  int
	RetryMax      int
	RetryBackoff  time.Duration
}

// SyncScheduler keeps the candle store in step with the exchange. A first
// pass backfills history per instrument, then a ticker drives incremental
// refreshes that re-fetch a small overlapping window so late corrections
// from the exchange overwrite earlier rows.
type SyncScheduler struct {
	store     domrepo.CandleStore
	source    domrepo.Source
	publisher domrepo.EventPublisher // nil when events are disabled
	metrics   domrepo.Metrics
	l         *applogger.Logger
	cfg       SyncConfig

	backfilled map[string]bool
	now        func() time.Time
}

type SyncOption func(*SyncScheduler)

func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncScheduler) { s.now = now }
}

func NewSyncScheduler(
	store domrepo.CandleStore,
	source domrepo.Source,
	publisher domrepo.EventPublisher,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	cfg SyncConfig,
	opts ...SyncOption,
) *SyncScheduler {
	s := &SyncScheduler{
		store:      store,
		source:     source,
		publisher:  publisher,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
		backfilled: make(map[string]bool, len(cfg.Instruments)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the sync loop until ctx is cancelled. The first cycle per
// instrument is a backfill; later cycles are incremental. If a cycle
// overruns the interval, the pending tick is dropped rather than queued.
func (s *SyncScheduler) Run(ctx context.Context) error {
	s.l.Info("sync scheduler started",
		applogger.Int("instruments", len(s.cfg.Instruments)),
		applogger.Duration("interval", s.cfg.Interval),
	)

	s.SyncCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.l.Info("sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SyncCycle(ctx)
			// drop the tick that may have accumulated while we ran
			select {
			case <-ticker.C:
				s.l.Warn("sync cycle overran interval, skipping tick")
				s.metrics.RecordTickSkipped("sync")
			default:
			}
		}
	}
}

// SyncCycle syncs every configured instrument once, sequentially. A
// failure on one instrument is logged and counted but never blocks the
// rest of the list.
func (s *SyncScheduler) SyncCycle(ctx context.Context) {
	start := s.now()
	for _, instrument := range s.cfg.Instruments {
		if ctx.Err() != nil {
			return
		}
		if err := s.syncInstrument(ctx, instrument); err != nil {
			s.l.Error("instrument sync failed",
				applogger.String("instrument", instrument),
				applogger.Error(err),
			)
			s.metrics.RecordError(errorKind(err))
		}
	}
	s.metrics.RecordTickDuration("sync", s.now().Sub(start).Seconds())
}

func (s *SyncScheduler) syncInstrument(ctx context.Context, instrument string) error {
	count := s.cfg.RefreshCount
	if !s.backfilled[instrument] {
		count = s.cfg.BackfillCount
	}

	candles, err := s.fetchWithRetry(ctx, instrument, count)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		s.l.Debug("no candles returned", applogger.String("instrument", instrument))
		return nil
	}

	if err := s.store.InsertCandles(ctx, candles); err != nil {
		return fmt.Errorf("store base candles: %w", err)
	}
	// an instrument counts as backfilled only after its first successful write
	s.backfilled[instrument] = true
	s.metrics.RecordCandlesSynced(s.cfg.Source, instrument, string(s.cfg.BaseTimeframe), len(candles))

	s.publishRefresh(ctx, instrument, s.cfg.BaseTimeframe, candles[len(candles)-1].Bucket, len(candles))

	for _, target := range s.cfg.Targets {
		if err := s.aggregateInto(ctx, instrument, candles, target); err != nil {
			return fmt.Errorf("aggregate %s: %w", target, err)
		}
	}
	return nil
}

// aggregateInto recomputes every target bucket touched by the new base
// candles from scratch. The store query widens the window to full target
// buckets so a partial fetch never produces an undercounted rollup.
func (s *SyncScheduler) aggregateInto(ctx context.Context, instrument string, inserted []models.Candle, target domrepo.Timeframe) error {
	from, to, ok := aggregation.CoveringRange(inserted, target)
	if !ok {
		return nil
	}

	base, err := s.store.QueryCandles(ctx, s.cfg.Source, instrument, s.cfg.BaseTimeframe, from, to)
	if err != nil {
		return fmt.Errorf("query base range: %w", err)
	}

	rolled := aggregation.Rollup(base, target)
	if len(rolled) == 0 {
		return nil
	}
	if err := s.store.InsertCandles(ctx, rolled); err != nil {
		return fmt.Errorf("store rollup: %w", err)
	}
	s.metrics.RecordBucketsAggregated(string(target), len(rolled))

	s.publishRefresh(ctx, instrument, target, rolled[len(rolled)-1].Bucket, len(rolled))
	return nil
}

func (s *SyncScheduler) fetchWithRetry(ctx context.Context, instrument string, count int) ([]models.Candle, error) {
	backoff := s.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		candles, err := s.source.FetchOHLCV(ctx, instrument, s.cfg.BaseTimeframe, time.Time{}, count)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		if !errors.Is(err, models.ErrSourceUnavailable) {
			return nil, err
		}
		s.l.Warn("fetch retry",
			applogger.String("instrument", instrument),
			applogger.Int("attempt", attempt+1),
			applogger.Error(err),
		)
	}
	return nil, lastErr
}

func (s *SyncScheduler) publishRefresh(ctx context.Context, instrument string, tf domrepo.Timeframe, bucket time.Time, count int) {
	if s.publisher == nil {
		return
	}
	ev := &models.CandleEvent{
		Source:     s.cfg.Source,
		Instrument: instrument,
		Timeframe:  string(tf),
		Bucket:     bucket,
		Count:      count,
		SyncedAt:   s.now().UTC(),
	}
	if err := s.publisher.PublishCandleEvent(ctx, ev); err != nil {
		// events are best effort, sync state is already durable
		s.l.Warn("publish candle event failed",
			applogger.String("instrument", instrument),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, models.ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, models.ErrMalformedData):
		return "malformed_data"
	default:
		return "internal"
	}
}
