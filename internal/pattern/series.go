// Package pattern recognizes candlestick shapes over OHLCV arrays. Each
// recognizer returns one value per candle: +100 for a bullish occurrence,
// -100 for a bearish one and 0 when the shape is absent.
package pattern

import (
	"math"

	"pattern-trader/internal/core"
)

// Func recognizes a single candlestick shape.
type Func func(s Series) []int

const (
	Bullish = 100
	Bearish = -100
)

// avgPeriod is the trailing window for average body size.
const avgPeriod = 10

type Series struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// FromCandles converts decimal candles to float arrays. Recognition is a
// heuristic, so float precision is sufficient here.
func FromCandles(candles []core.Candle) Series {
	s := Series{
		Open:   make([]float64, len(candles)),
		High:   make([]float64, len(candles)),
		Low:    make([]float64, len(candles)),
		Close:  make([]float64, len(candles)),
		Volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Open[i] = c.Open.InexactFloat64()
		s.High[i] = c.High.InexactFloat64()
		s.Low[i] = c.Low.InexactFloat64()
		s.Close[i] = c.Close.InexactFloat64()
		s.Volume[i] = c.Volume.InexactFloat64()
	}
	return s
}

func (s Series) Len() int {
	return len(s.Close)
}

func (s Series) body(i int) float64 {
	return math.Abs(s.Close[i] - s.Open[i])
}

func (s Series) rng(i int) float64 {
	return s.High[i] - s.Low[i]
}

func (s Series) bodyTop(i int) float64 {
	return math.Max(s.Open[i], s.Close[i])
}

func (s Series) bodyBottom(i int) float64 {
	return math.Min(s.Open[i], s.Close[i])
}

func (s Series) upperShadow(i int) float64 {
	return s.High[i] - s.bodyTop(i)
}

func (s Series) lowerShadow(i int) float64 {
	return s.bodyBottom(i) - s.Low[i]
}

func (s Series) white(i int) bool {
	return s.Close[i] >= s.Open[i]
}

func (s Series) black(i int) bool {
	return s.Close[i] < s.Open[i]
}

// color is 1 for white candles and -1 for black ones.
func (s Series) color(i int) int {
	if s.white(i) {
		return 1
	}
	return -1
}

// avgBody is the mean body over the candles preceding i.
func (s Series) avgBody(i int) float64 {
	start := i - avgPeriod
	if start < 0 {
		start = 0
	}
	if start == i {
		return s.body(i)
	}
	sum := 0.0
	for j := start; j < i; j++ {
		sum += s.body(j)
	}
	return sum / float64(i-start)
}

func (s Series) long(i int) bool {
	return s.body(i) > s.avgBody(i)
}

func (s Series) short(i int) bool {
	return s.body(i) < 0.5*s.avgBody(i)
}

func (s Series) doji(i int) bool {
	r := s.rng(i)
	if r == 0 {
		return true
	}
	return s.body(i) <= 0.1*r
}

// gapUp reports whether candle j's real body opens above candle i's real body.
func (s Series) gapUp(i, j int) bool {
	return s.bodyBottom(j) > s.bodyTop(i)
}

func (s Series) gapDown(i, j int) bool {
	return s.bodyTop(j) < s.bodyBottom(i)
}

// scan evaluates fn for every index with enough history.
func scan(s Series, lookback int, fn func(i int) int) []int {
	out := make([]int, s.Len())
	for i := lookback; i < s.Len(); i++ {
		out[i] = fn(i)
	}
	return out
}
