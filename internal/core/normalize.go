package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	// ErrSymbolNotTrading means the symbol does not accept orders right now. It is
	// a "no order" outcome, not a failure.
	ErrSymbolNotTrading = errors.New("symbol not trading")
	// ErrFilterMissing means a filter needed to build a compliant order is absent.
	ErrFilterMissing = errors.New("exchange filter missing")
)

const (
	FilterPrice       = "PRICE_FILTER"
	FilterLotSize     = "LOT_SIZE"
	FilterMinNotional = "MIN_NOTIONAL"
	FilterNotional    = "NOTIONAL"
)

// Quote is a normalized quantity/price pair.
type Quote struct {
	Qty   decimal.Decimal
	Price decimal.Decimal
}

func (q Quote) Notional() decimal.Decimal {
	return q.Qty.Mul(q.Price)
}

type NormalizeOptions struct {
	// NotionalFloor is an additional quote-denominated minimum applied after the
	// declared filters. Zero disables it.
	NotionalFloor decimal.Decimal
}

// NormalizeOrder ratchets a desired quantity and price up to the symbol's
// price and lot grids and raises the quantity to satisfy minimum notional.
// When a required filter is missing the corresponding field stays zero and
// an ErrFilterMissing error is returned.
func NormalizeOrder(rules Rules, qty, price decimal.Decimal, opts NormalizeOptions) (Quote, error) {
	if !rules.Trading() {
		return Quote{}, ErrSymbolNotTrading
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return Quote{}, ErrInvalidOrder
	}
	base := rules.BaseContext()

	var out Quote
	missing := make([]string, 0, 2)
	if rules.Price != nil {
		out.Price = RatchetUp(price, rules.Price.MinPrice, rules.Price.TickSize)
	} else {
		missing = append(missing, FilterPrice)
	}
	if rules.Lot != nil {
		out.Qty = RatchetUp(qty, rules.Lot.MinQty, rules.Lot.StepSize)
	} else {
		missing = append(missing, FilterLotSize)
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: %s %s", ErrFilterMissing, rules.Symbol, strings.Join(missing, ","))
	}

	// Last-resort correction: may leave the step grid.
	if rules.MinNotional != nil && out.Notional().LessThan(*rules.MinNotional) {
		out.Qty = base.DivUp(*rules.MinNotional, out.Price)
	}

	if opts.NotionalFloor.IsPositive() {
		out.Qty = raiseToNotionalFloor(out, rules.Lot.StepSize, opts.NotionalFloor, base)
	}
	return out, nil
}

// RatchetUp returns the smallest min + k*step (k >= 0) that is >= desired.
// The result is exact and never rounded, so it stays on the grid. A
// non-positive step disables the grid and only the minimum applies.
func RatchetUp(desired, min, step decimal.Decimal) decimal.Decimal {
	if desired.LessThanOrEqual(min) {
		return min
	}
	if !step.IsPositive() {
		return desired
	}
	k := desired.Sub(min).DivRound(step, 40).Ceil()
	return min.Add(step.Mul(k))
}

// raiseToNotionalFloor adds whole steps to the quantity until the exact
// notional reaches floor.
func raiseToNotionalFloor(q Quote, step, floor decimal.Decimal, base Precision) decimal.Decimal {
	if !q.Notional().LessThan(floor) {
		return q.Qty
	}
	if !step.IsPositive() {
		return base.DivUp(floor, q.Price)
	}
	k := floor.Sub(q.Notional()).DivRound(step.Mul(q.Price), 40).Ceil()
	qty := q.Qty.Add(step.Mul(k))
	for qty.Mul(q.Price).LessThan(floor) {
		qty = qty.Add(step)
	}
	return qty
}
