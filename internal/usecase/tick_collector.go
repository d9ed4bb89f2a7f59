package usecase

import (
	"context"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	applogger "CandleSync/pkg/logger"
)

// TickCollectorConfig carries the live tick collector knobs.
type TickCollectorConfig struct {
	Source        string
	FlushInterval time.Duration
}

// TickCollector folds live trades into a forming one-minute candle per
// instrument and periodically writes it to the store. The REST sync later
// overwrites each closed bucket with the exchange's authoritative bar, so
// stream gaps heal themselves.
type TickCollector struct {
	stream  domrepo.TickStream
	store   domrepo.CandleStore
	metrics domrepo.Metrics
	l       *applogger.Logger
	cfg     TickCollectorConfig

	forming map[string]*models.Candle
	now     func() time.Time
}

func NewTickCollector(
	stream domrepo.TickStream,
	store domrepo.CandleStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	cfg TickCollectorConfig,
) *TickCollector {
	return &TickCollector{
		stream:  stream,
		store:   store,
		metrics: metrics,
		l:       l,
		cfg:     cfg,
		forming: make(map[string]*models.Candle),
		now:     time.Now,
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting after
// stream errors.
func (t *TickCollector) Run(ctx context.Context) error {
	if err := t.stream.Connect(ctx); err != nil {
		return err
	}
	if err := t.stream.Subscribe(ctx); err != nil {
		return err
	}
	defer t.stream.Close()

	flush := time.NewTicker(t.cfg.FlushInterval)
	defer flush.Stop()

	for {
		ticks, errs := t.stream.Read(ctx)

	consume:
		for {
			select {
			case <-ctx.Done():
				t.flushAll(context.WithoutCancel(ctx))
				return ctx.Err()
			case <-flush.C:
				t.flushAll(ctx)
			case tick, ok := <-ticks:
				if !ok {
					break consume
				}
				t.fold(ctx, tick)
			case err, ok := <-errs:
				if !ok {
					break consume
				}
				t.l.Warn("tick stream error", applogger.Error(err))
				t.metrics.RecordError("source_unavailable")
				break consume
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.stream.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.l.Error("tick stream reconnect failed", applogger.Error(err))
		}
	}
}

// fold merges one trade into the instrument's forming candle, flushing
// the previous candle when the trade crosses a minute boundary.
func (t *TickCollector) fold(ctx context.Context, tick *models.Tick) {
	bucket := domrepo.TF1m.Truncate(time.UnixMilli(tick.Timestamp).UTC())

	current, ok := t.forming[tick.Instrument]
	if ok && !current.Bucket.Equal(bucket) {
		t.flushOne(ctx, current)
		ok = false
	}
	if !ok {
		t.forming[tick.Instrument] = &models.Candle{
			Source:      t.cfg.Source,
			Instrument:  tick.Instrument,
			Timeframe:   string(domrepo.TF1m),
			Bucket:      bucket,
			Open:        tick.Price,
			High:        tick.Price,
			Low:         tick.Price,
			Close:       tick.Price,
			BaseVolume:  tick.Quantity,
			QuoteVolume: tick.Price * tick.Quantity,
			TradeCount:  1,
			IsSynthetic: false,
		}
		return
	}

	if tick.Price > current.High {
		current.High = tick.Price
	}
	if tick.Price < current.Low {
		current.Low = tick.Price
	}
	current.Close = tick.Price
	current.BaseVolume += tick.Quantity
	current.QuoteVolume += tick.Price * tick.Quantity
	current.TradeCount++
}

func (t *TickCollector) flushAll(ctx context.Context) {
	for _, c := range t.forming {
		t.flushOne(ctx, c)
	}
}

func (t *TickCollector) flushOne(ctx context.Context, c *models.Candle) {
	if c == nil || c.TradeCount == 0 {
		return
	}
	if err := t.store.InsertCandles(ctx, []models.Candle{*c}); err != nil {
		// keep folding, the REST sync remains the source of truth
		t.l.Warn("forming candle flush failed",
			applogger.String("instrument", c.Instrument),
			applogger.Error(err),
		)
		t.metrics.RecordError("store_unavailable")
		return
	}
	t.metrics.RecordCandlesSynced(c.Source, c.Instrument, c.Timeframe, 1)
}
