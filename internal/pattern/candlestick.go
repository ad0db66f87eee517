package pattern

// AbandonedBaby: long candle, doji gapping away with shadows, reversal candle
// gapping back.
func AbandonedBaby(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if !s.long(a) || !s.doji(b) {
			return 0
		}
		if s.black(a) && s.white(i) && s.High[b] < s.Low[a] && s.Low[i] > s.High[b] &&
			s.Close[i] > s.Close[a]+0.3*s.body(a) {
			return Bullish
		}
		if s.white(a) && s.black(i) && s.Low[b] > s.High[a] && s.High[i] < s.Low[b] &&
			s.Close[i] < s.Close[a]-0.3*s.body(a) {
			return Bearish
		}
		return 0
	})
}

// DarkCloudCover: long white candle, black candle opening above its high and
// closing below its midpoint.
func DarkCloudCover(s Series) []int {
	return scan(s, 1, func(i int) int {
		p := i - 1
		if s.white(p) && s.long(p) && s.black(i) &&
			s.Open[i] > s.High[p] &&
			s.Close[i] < s.Close[p]-0.5*s.body(p) &&
			s.Close[i] > s.Open[p] {
			return Bearish
		}
		return 0
	})
}

// DragonflyDoji: doji with no upper shadow and a long lower shadow.
func DragonflyDoji(s Series) []int {
	return scan(s, 0, func(i int) int {
		r := s.rng(i)
		if r == 0 || !s.doji(i) {
			return 0
		}
		if s.upperShadow(i) <= 0.1*r && s.lowerShadow(i) >= 0.6*r {
			return Bullish
		}
		return 0
	})
}

// Engulfing: a real body that engulfs the previous, opposite-color body.
func Engulfing(s Series) []int {
	return scan(s, 1, func(i int) int {
		p := i - 1
		if s.body(i) <= s.body(p) {
			return 0
		}
		if s.black(p) && s.white(i) && s.Open[i] <= s.Close[p] && s.Close[i] >= s.Open[p] {
			return Bullish
		}
		if s.white(p) && s.black(i) && s.Open[i] >= s.Close[p] && s.Close[i] <= s.Open[p] {
			return Bearish
		}
		return 0
	})
}

// EveningDojiStar: long white, doji gapping up, black closing deep into the
// first body.
func EveningDojiStar(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if s.white(a) && s.long(a) && s.doji(b) && s.gapUp(a, b) &&
			s.black(i) && s.Close[i] < s.Close[a]-0.3*s.body(a) {
			return Bearish
		}
		return 0
	})
}

// EveningStar: long white, short body gapping up, black closing deep into the
// first body.
func EveningStar(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if s.white(a) && s.long(a) && s.short(b) && s.gapUp(a, b) &&
			s.black(i) && !s.short(i) && s.Close[i] < s.Close[a]-0.3*s.body(a) {
			return Bearish
		}
		return 0
	})
}

func hammerShape(s Series, i int) bool {
	b := s.body(i)
	r := s.rng(i)
	if r == 0 || b == 0 {
		return false
	}
	return s.short(i) && s.lowerShadow(i) >= 2*b && s.upperShadow(i) <= 0.1*r
}

// Hammer: small body near the top, long lower shadow, at or below the prior
// candle's low area.
func Hammer(s Series) []int {
	return scan(s, 1, func(i int) int {
		if hammerShape(s, i) && s.bodyBottom(i) <= s.Low[i-1]+0.5*s.rng(i-1) {
			return Bullish
		}
		return 0
	})
}

// HangingMan: hammer shape printed at or above the prior candle's high area.
func HangingMan(s Series) []int {
	return scan(s, 1, func(i int) int {
		if hammerShape(s, i) && s.bodyBottom(i) >= s.High[i-1]-0.5*s.rng(i-1) {
			return Bearish
		}
		return 0
	})
}

// MorningDojiStar: long black, doji gapping down, white closing deep into the
// first body.
func MorningDojiStar(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if s.black(a) && s.long(a) && s.doji(b) && s.gapDown(a, b) &&
			s.white(i) && s.Close[i] > s.Close[a]+0.3*s.body(a) {
			return Bullish
		}
		return 0
	})
}

// MorningStar: long black, short body gapping down, white closing deep into
// the first body.
func MorningStar(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if s.black(a) && s.long(a) && s.short(b) && s.gapDown(a, b) &&
			s.white(i) && !s.short(i) && s.Close[i] > s.Close[a]+0.3*s.body(a) {
			return Bullish
		}
		return 0
	})
}

// ShootingStar: small body gapping up with a long upper shadow.
func ShootingStar(s Series) []int {
	return scan(s, 1, func(i int) int {
		b := s.body(i)
		r := s.rng(i)
		if r == 0 || b == 0 {
			return 0
		}
		if s.short(i) && s.upperShadow(i) >= 2*b && s.lowerShadow(i) <= 0.1*r && s.gapUp(i-1, i) {
			return Bearish
		}
		return 0
	})
}

// ThreeWhiteSoldiers: three rising white candles, each opening inside the
// previous body and closing near its high.
func ThreeWhiteSoldiers(s Series) []int {
	return scan(s, 2, func(i int) int {
		for j := i - 2; j <= i; j++ {
			if !s.white(j) || s.short(j) || s.upperShadow(j) > 0.3*s.body(j) {
				return 0
			}
		}
		for j := i - 1; j <= i; j++ {
			if s.Close[j] <= s.Close[j-1] || s.Open[j] <= s.Open[j-1] || s.Open[j] > s.Close[j-1] {
				return 0
			}
		}
		return Bullish
	})
}

// ThreeBlackCrows: a white candle followed by three falling black candles,
// each opening inside the previous body and closing near its low.
func ThreeBlackCrows(s Series) []int {
	return scan(s, 3, func(i int) int {
		if !s.white(i - 3) {
			return 0
		}
		for j := i - 2; j <= i; j++ {
			if !s.black(j) || s.lowerShadow(j) > 0.3*s.body(j) || s.body(j) == 0 {
				return 0
			}
		}
		if s.Close[i-2] >= s.High[i-3] {
			return 0
		}
		for j := i - 1; j <= i; j++ {
			if s.Close[j] >= s.Close[j-1] || s.Open[j] >= s.Open[j-1] || s.Open[j] < s.Close[j-1] {
				return 0
			}
		}
		return Bearish
	})
}

// ThreeInside: harami followed by a candle closing beyond the first open.
func ThreeInside(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if !s.long(a) || !s.short(b) {
			return 0
		}
		if s.bodyTop(b) >= s.bodyTop(a) || s.bodyBottom(b) <= s.bodyBottom(a) {
			return 0
		}
		if s.black(a) && s.white(i) && s.Close[i] > s.Open[a] {
			return Bullish
		}
		if s.white(a) && s.black(i) && s.Close[i] < s.Open[a] {
			return Bearish
		}
		return 0
	})
}

// ThreeLineStrike: three same-color candles stepping in one direction and a
// fourth that opens beyond the third close and wipes out the whole run.
func ThreeLineStrike(s Series) []int {
	return scan(s, 3, func(i int) int {
		c := s.color(i - 3)
		if s.color(i-2) != c || s.color(i-1) != c || s.color(i) == c {
			return 0
		}
		if c > 0 {
			if s.Close[i-2] > s.Close[i-3] && s.Close[i-1] > s.Close[i-2] &&
				s.Open[i] > s.Close[i-1] && s.Close[i] < s.Open[i-3] {
				return Bullish
			}
			return 0
		}
		if s.Close[i-2] < s.Close[i-3] && s.Close[i-1] < s.Close[i-2] &&
			s.Open[i] < s.Close[i-1] && s.Close[i] > s.Open[i-3] {
			return Bearish
		}
		return 0
	})
}

// ThreeOutside: engulfing followed by a confirming close.
func ThreeOutside(s Series) []int {
	engulfing := Engulfing(s)
	return scan(s, 2, func(i int) int {
		switch engulfing[i-1] {
		case Bullish:
			if s.Close[i] > s.Close[i-1] {
				return Bullish
			}
		case Bearish:
			if s.Close[i] < s.Close[i-1] {
				return Bearish
			}
		}
		return 0
	})
}

// TwoCrows: long white, black gapping up, black opening within the second
// body and closing within the first.
func TwoCrows(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if s.white(a) && s.long(a) && s.black(b) && s.gapUp(a, b) && s.black(i) &&
			s.Open[i] < s.Open[b] && s.Open[i] > s.Close[b] &&
			s.Close[i] > s.Open[a] && s.Close[i] < s.Close[a] {
			return Bearish
		}
		return 0
	})
}

// UpsideGapTwoCrows: long white, small black gapping up, larger black
// engulfing it while still closing above the first close.
func UpsideGapTwoCrows(s Series) []int {
	return scan(s, 2, func(i int) int {
		a, b := i-2, i-1
		if s.white(a) && s.long(a) && s.black(b) && s.short(b) && s.gapUp(a, b) && s.black(i) &&
			s.Open[i] > s.Open[b] && s.Close[i] < s.Close[b] && s.Close[i] > s.Close[a] {
			return Bearish
		}
		return 0
	})
}
