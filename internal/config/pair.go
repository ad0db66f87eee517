package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidPair = errors.New("invalid symbol pair")

type SymbolPair struct {
	Base         string  `yaml:"base"`
	Quote        string  `yaml:"quote"`
	BuyFraction  Decimal `yaml:"buy_fraction"`
	SellFraction Decimal `yaml:"sell_fraction"`
	// Price checks are on unless explicitly disabled.
	BuyPriceCheck  *bool `yaml:"buy_price_check"`
	SellPriceCheck *bool `yaml:"sell_price_check"`
	// CheckDays overrides the lookback window of both price checks.
	CheckDays *int `yaml:"check_days"`
}

func (p *SymbolPair) normalize() {
	p.Base = strings.ToUpper(strings.TrimSpace(p.Base))
	p.Quote = strings.ToUpper(strings.TrimSpace(p.Quote))
}

func (p SymbolPair) Symbol() string {
	return p.Base + p.Quote
}

func (p SymbolPair) String() string {
	return p.Base + "/" + p.Quote
}

// Validate reports a per-pair configuration error wrapping ErrInvalidPair.
func (p SymbolPair) Validate() error {
	if !isValidAsset(p.Base) || !isValidAsset(p.Quote) {
		return fmt.Errorf("%w: %s: base and quote must match [A-Z0-9], length 2..10", ErrInvalidPair, p)
	}
	if p.Base == p.Quote {
		return fmt.Errorf("%w: %s: base and quote must differ", ErrInvalidPair, p)
	}
	one := decimal.NewFromInt(1)
	for name, f := range map[string]Decimal{"buy_fraction": p.BuyFraction, "sell_fraction": p.SellFraction} {
		if f.IsNegative() || f.GreaterThan(one) {
			return fmt.Errorf("%w: %s: %s must be between 0 and 1", ErrInvalidPair, p, name)
		}
	}
	if p.BuyFraction.IsZero() && p.SellFraction.IsZero() {
		return fmt.Errorf("%w: %s: buy_fraction or sell_fraction must be > 0", ErrInvalidPair, p)
	}
	if p.CheckDays != nil && *p.CheckDays < 0 {
		return fmt.Errorf("%w: %s: check_days must be >= 0", ErrInvalidPair, p)
	}
	return nil
}

func (p SymbolPair) BuyCheckEnabled() bool {
	return p.BuyPriceCheck == nil || *p.BuyPriceCheck
}

func (p SymbolPair) SellCheckEnabled() bool {
	return p.SellPriceCheck == nil || *p.SellPriceCheck
}

// LookbackDays returns the price-check window for an order side given the
// global default. Zero means unbounded.
func (p SymbolPair) LookbackDays(fallback int) int {
	if p.CheckDays != nil {
		return *p.CheckDays
	}
	return fallback
}

func isValidAsset(v string) bool {
	if len(v) < 2 || len(v) > 10 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
