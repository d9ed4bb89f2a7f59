// Package aggregation rolls base-timeframe candles up into coarser
// timeframes. It is pure logic: the caller supplies the full set of base
// candles covering each target bucket and writes the result back, so a
// bucket is always recomputed wholesale, never incremented. Combined with
// the store's replace-on-key merge this makes repeated aggregation of
// overlapping windows idempotent.
package aggregation

import (
	"sort"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
)

// Rollup aggregates base candles into target-timeframe buckets.
//
// Per bucket: open comes from the earliest contributing candle, close from
// the latest, high/low are the extremes, volumes and trade counts are sums.
// A bucket is synthetic only if every contributor is synthetic. Buckets with
// zero contributors are not emitted.
func Rollup(base []models.Candle, target domrepo.Timeframe) []models.Candle {
	if len(base) == 0 {
		return nil
	}

	groups := make(map[time.Time][]models.Candle)
	for _, c := range base {
		key := target.Truncate(c.Bucket)
		groups[key] = append(groups[key], c)
	}

	out := make([]models.Candle, 0, len(groups))
	for bucket, group := range groups {
		out = append(out, mergeGroup(bucket, group, target))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}

func mergeGroup(bucket time.Time, group []models.Candle, target domrepo.Timeframe) models.Candle {
	sort.Slice(group, func(i, j int) bool { return group[i].Bucket.Before(group[j].Bucket) })

	first, last := group[0], group[len(group)-1]
	agg := models.Candle{
		Source:      first.Source,
		Instrument:  first.Instrument,
		Timeframe:   string(target),
		Bucket:      bucket,
		Open:        first.Open,
		High:        first.High,
		Low:         first.Low,
		Close:       last.Close,
		IsSynthetic: true,
	}
	for _, c := range group {
		if c.High > agg.High {
			agg.High = c.High
		}
		if c.Low < agg.Low {
			agg.Low = c.Low
		}
		agg.BaseVolume += c.BaseVolume
		agg.QuoteVolume += c.QuoteVolume
		agg.TradeCount += c.TradeCount
		if !c.IsSynthetic {
			agg.IsSynthetic = false
		}
	}
	return agg
}

// CoveringRange returns the [from, to) base-candle range that fully covers
// every target bucket touched by the given base candles. The sync scheduler
// queries this range from the store before rolling up, so sums are always
// computed from the full underlying set even when the synced window only
// partially overlaps a target bucket.
func CoveringRange(base []models.Candle, target domrepo.Timeframe) (time.Time, time.Time, bool) {
	if len(base) == 0 {
		return time.Time{}, time.Time{}, false
	}
	min, max := base[0].Bucket, base[0].Bucket
	for _, c := range base[1:] {
		if c.Bucket.Before(min) {
			min = c.Bucket
		}
		if c.Bucket.After(max) {
			max = c.Bucket
		}
	}
	from := target.Truncate(min)
	to := target.Truncate(max).Add(target.Duration())
	return from, to, true
}
