package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	candlesSynced     *prometheus.CounterVec
	bucketsAggregated *prometheus.CounterVec
	indicatorSets     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	ticksSkipped      *prometheus.CounterVec
	tickDuration      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		candlesSynced: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlesync_candles_synced_total",
				Help: "Total number of candles written by the sync scheduler",
			},
			[]string{"source", "instrument", "timeframe"},
		),
		bucketsAggregated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlesync_buckets_aggregated_total",
				Help: "Total number of derived buckets recomputed",
			},
			[]string{"timeframe"},
		),
		indicatorSets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlesync_indicator_sets_total",
				Help: "Total number of indicator sets persisted",
			},
			[]string{"source", "instrument", "timeframe"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlesync_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		ticksSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlesync_ticks_skipped_total",
				Help: "Scheduler ticks skipped because the previous tick overran",
			},
			[]string{"job"},
		),
		tickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candlesync_tick_duration_seconds",
				Help:    "Duration of scheduler ticks in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}

// RecordCandlesSynced counts candles written for one instrument/timeframe.
func (r *Recorder) RecordCandlesSynced(source, instrument, timeframe string, n int) {
	r.candlesSynced.WithLabelValues(source, instrument, timeframe).Add(float64(n))
}

// RecordBucketsAggregated counts derived buckets recomputed.
func (r *Recorder) RecordBucketsAggregated(timeframe string, n int) {
	r.bucketsAggregated.WithLabelValues(timeframe).Add(float64(n))
}

// RecordIndicatorSet counts one persisted indicator set.
func (r *Recorder) RecordIndicatorSet(source, instrument, timeframe string) {
	r.indicatorSets.WithLabelValues(source, instrument, timeframe).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordTickSkipped records a skipped scheduler tick.
func (r *Recorder) RecordTickSkipped(job string) {
	r.ticksSkipped.WithLabelValues(job).Inc()
}

// RecordTickDuration records tick duration in seconds.
func (r *Recorder) RecordTickDuration(job string, seconds float64) {
	r.tickDuration.WithLabelValues(job).Observe(seconds)
}
