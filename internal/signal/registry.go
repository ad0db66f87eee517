package signal

import "pattern-trader/internal/pattern"

// ValidatorID names a trend validator in the static validator table.
type ValidatorID string

const (
	ReversalIfTrend              ValidatorID = "reversal_if_trend"
	ReversalIfLongTrend          ValidatorID = "reversal_if_long_trend"
	ReversalIfPreviousTrendSkip1 ValidatorID = "reversal_if_previous_trend_skip1"
	ReversalIfPreviousTrendSkip3 ValidatorID = "reversal_if_previous_trend_skip3"
)

// Validator decides whether a pattern's direction is consistent with the
// preceding price action.
type Validator func(indication float64, closes []float64) bool

var validators = map[ValidatorID]Validator{
	ReversalIfTrend:              reversal(1, 0),
	ReversalIfLongTrend:          reversal(2, 0),
	ReversalIfPreviousTrendSkip1: reversal(1, 1),
	ReversalIfPreviousTrendSkip3: reversal(1, 3),
}

// Pattern binds a recognizer to the validators that must all pass for a
// nonzero value to count.
type Pattern struct {
	Name       string
	Func       pattern.Func
	Validators []ValidatorID
}

type Registry []Pattern

// DefaultRegistry returns the production pattern table.
func DefaultRegistry() Registry {
	return Registry{
		{Name: "Abandoned baby", Func: pattern.AbandonedBaby, Validators: []ValidatorID{ReversalIfTrend}},
		{Name: "Dark cloud cover", Func: pattern.DarkCloudCover, Validators: []ValidatorID{ReversalIfPreviousTrendSkip1}},
		{Name: "Dragonfly doji", Func: pattern.DragonflyDoji, Validators: []ValidatorID{ReversalIfLongTrend}},
		{Name: "Engulfing", Func: pattern.Engulfing, Validators: []ValidatorID{ReversalIfPreviousTrendSkip1}},
		{Name: "Evening doji star", Func: pattern.EveningDojiStar, Validators: []ValidatorID{ReversalIfLongTrend}},
		{Name: "Evening star", Func: pattern.EveningStar, Validators: []ValidatorID{ReversalIfTrend}},
		{Name: "Hammer", Func: pattern.Hammer, Validators: []ValidatorID{ReversalIfLongTrend}},
		{Name: "Hanging man", Func: pattern.HangingMan, Validators: []ValidatorID{ReversalIfLongTrend}},
		{Name: "Morning doji star", Func: pattern.MorningDojiStar, Validators: []ValidatorID{ReversalIfLongTrend}},
		{Name: "Morning star", Func: pattern.MorningStar, Validators: []ValidatorID{ReversalIfTrend}},
		{Name: "Shooting star", Func: pattern.ShootingStar, Validators: []ValidatorID{ReversalIfTrend}},
		{Name: "Three advancing white soldiers", Func: pattern.ThreeWhiteSoldiers, Validators: []ValidatorID{ReversalIfPreviousTrendSkip3}},
		{Name: "Three black crows", Func: pattern.ThreeBlackCrows, Validators: []ValidatorID{ReversalIfPreviousTrendSkip3}},
		{Name: "Three inside up/down", Func: pattern.ThreeInside, Validators: []ValidatorID{ReversalIfPreviousTrendSkip3}},
		{Name: "Three line strike", Func: pattern.ThreeLineStrike, Validators: []ValidatorID{ReversalIfPreviousTrendSkip3}},
		{Name: "Three outside up/down", Func: pattern.ThreeOutside, Validators: []ValidatorID{ReversalIfPreviousTrendSkip3}},
		{Name: "Two crows", Func: pattern.TwoCrows, Validators: []ValidatorID{ReversalIfPreviousTrendSkip1}},
		{Name: "Upside gap two crows", Func: pattern.UpsideGapTwoCrows, Validators: []ValidatorID{ReversalIfPreviousTrendSkip1}},
	}
}

// Validate runs one validator. Unknown identifiers never pass.
func Validate(id ValidatorID, indication float64, closes []float64) bool {
	fn, ok := validators[id]
	if !ok {
		return false
	}
	return fn(indication, closes)
}

// reversal compares the mean of the last factor+skip closes with the mean of
// the 4*factor closes before them. A bullish value needs a preceding decline,
// a bearish value a preceding rise.
func reversal(factor, skip int) Validator {
	recentLen := factor + skip
	previousLen := 4 * factor
	return func(indication float64, closes []float64) bool {
		n := len(closes)
		if indication == 0 || n < recentLen+previousLen {
			return false
		}
		split := n - recentLen
		recent := mean(closes[split:])
		previous := mean(closes[split-previousLen : split])
		if indication > 0 {
			return recent < previous
		}
		return recent > previous
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
