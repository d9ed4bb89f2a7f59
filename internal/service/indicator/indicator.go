// Package indicator implements the configured set of technical indicators.
//
// The set is closed: each indicator is a tagged kind dispatched by name
// rather than an open class hierarchy, since the list is finite and
// configuration-driven. All computations are pure functions of the ordered
// candle history and fixed parameters, so recomputation over the same
// history is deterministic.
package indicator

import (
	"fmt"

	"CandleSync/internal/domain/models"
)

type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindStochastic Kind = "stochastic"
)

// Params carries every parameter any kind can take; each kind reads only
// the fields it needs.
type Params struct {
	Period  int `yaml:"period"`
	Fast    int `yaml:"fast"`
	Slow    int `yaml:"slow"`
	Signal  int `yaml:"signal"`
	KPeriod int `yaml:"k_period"`
	KSlow   int `yaml:"k_slow"`
	DPeriod int `yaml:"d_period"`
}

// Indicator is one configured indicator instance.
type Indicator struct {
	name   string
	kind   Kind
	params Params
}

// New validates parameters and applies per-kind defaults.
func New(name string, kind Kind, p Params) (*Indicator, error) {
	if name == "" {
		return nil, fmt.Errorf("indicator name required")
	}
	switch kind {
	case KindSMA, KindEMA:
		if p.Period <= 0 {
			return nil, fmt.Errorf("%s %s: period required", kind, name)
		}
	case KindRSI:
		if p.Period <= 0 {
			p.Period = 14
		}
	case KindMACD:
		if p.Fast <= 0 {
			p.Fast = 12
		}
		if p.Slow <= 0 {
			p.Slow = 26
		}
		if p.Signal <= 0 {
			p.Signal = 9
		}
		if p.Fast >= p.Slow {
			return nil, fmt.Errorf("macd %s: fast must be < slow", name)
		}
	case KindStochastic:
		if p.KPeriod <= 0 {
			p.KPeriod = 14
		}
		if p.KSlow <= 0 {
			p.KSlow = 3
		}
		if p.DPeriod <= 0 {
			p.DPeriod = 3
		}
	default:
		return nil, fmt.Errorf("unknown indicator kind: %s", kind)
	}
	return &Indicator{name: name, kind: kind, params: p}, nil
}

func (in *Indicator) Name() string { return in.name }
func (in *Indicator) Kind() Kind   { return in.kind }

// WarmUp returns the minimum history length the indicator needs before its
// output is meaningful. Exponentially-weighted kinds use 4x their period so
// the recursive term has converged.
func (in *Indicator) WarmUp() int {
	switch in.kind {
	case KindSMA:
		return in.params.Period
	case KindEMA:
		return 4 * in.params.Period
	case KindRSI:
		return in.params.Period + 1
	case KindMACD:
		return in.params.Slow + in.params.Signal
	case KindStochastic:
		return in.params.KPeriod + in.params.KSlow + in.params.DPeriod - 2
	default:
		return 0
	}
}

// Compute evaluates the indicator at the last bucket of history (oldest
// first). It returns nil when history is shorter than the warm-up length;
// no partial or placeholder value is ever produced. Multi-valued kinds
// return every component keyed off the configured name.
func (in *Indicator) Compute(history []models.Candle) map[string]float64 {
	if len(history) < in.WarmUp() {
		return nil
	}
	closes := make([]float64, len(history))
	for i, c := range history {
		closes[i] = c.Close
	}

	switch in.kind {
	case KindSMA:
		return map[string]float64{in.name: smaLast(closes, in.params.Period)}
	case KindEMA:
		s := emaSeries(closes, in.params.Period)
		return map[string]float64{in.name: s[len(s)-1]}
	case KindRSI:
		return map[string]float64{in.name: rsiLast(closes, in.params.Period)}
	case KindMACD:
		line, signal, hist := macdLast(closes, in.params.Fast, in.params.Slow, in.params.Signal)
		return map[string]float64{
			in.name:                line,
			in.name + "_signal":    signal,
			in.name + "_histogram": hist,
		}
	case KindStochastic:
		k, d := stochLast(history, in.params.KPeriod, in.params.KSlow, in.params.DPeriod)
		return map[string]float64{
			in.name + "_K": k,
			in.name + "_D": d,
		}
	default:
		return nil
	}
}
