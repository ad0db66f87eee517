// Package signal turns a candle window into a single directional indication.
package signal

import (
	"github.com/shopspring/decimal"

	"pattern-trader/internal/core"
	"pattern-trader/internal/pattern"
)

// formingVolumeRatio: a last candle below this share of the previous volume
// is treated as still forming.
var formingVolumeRatio = decimal.RequireFromString("0.2")

type Result struct {
	// Indication is the sum of counted values divided by the registry size.
	Indication float64
	Matches    []core.PatternMatch
	// Candles is the window that was analyzed, after trimming.
	Candles []core.Candle
}

func (r Result) Side() (core.Side, bool) {
	switch {
	case r.Indication > 0:
		return core.Buy, true
	case r.Indication < 0:
		return core.Sell, true
	default:
		return "", false
	}
}

type Aggregator struct {
	registry Registry
}

func NewAggregator(registry Registry) *Aggregator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Aggregator{registry: registry}
}

func (a *Aggregator) Patterns() int {
	return len(a.registry)
}

// Analyze evaluates every registered pattern on the last candle of the
// trimmed window.
func (a *Aggregator) Analyze(candles []core.Candle) Result {
	candles = TrimForming(candles)
	res := Result{Candles: candles}
	if len(candles) == 0 || len(a.registry) == 0 {
		return res
	}
	series := pattern.FromCandles(candles)
	last := series.Len() - 1

	sum := 0
	for _, p := range a.registry {
		values := p.Func(series)
		if len(values) != series.Len() {
			continue
		}
		v := values[last]
		if v == 0 {
			continue
		}
		if !validatorsPass(p.Validators, float64(v), series.Close) {
			continue
		}
		sum += v
		res.Matches = append(res.Matches, core.PatternMatch{Name: p.Name, Value: v})
	}
	res.Indication = float64(sum) / float64(len(a.registry))
	return res
}

func validatorsPass(ids []ValidatorID, indication float64, closes []float64) bool {
	for _, id := range ids {
		if !Validate(id, indication, closes) {
			return false
		}
	}
	return true
}

// TrimForming drops the last candle when its volume is below a fifth of the
// previous candle's volume.
func TrimForming(candles []core.Candle) []core.Candle {
	n := len(candles)
	if n < 2 {
		return candles
	}
	if candles[n-1].Volume.LessThan(candles[n-2].Volume.Mul(formingVolumeRatio)) {
		return candles[:n-1]
	}
	return candles
}
