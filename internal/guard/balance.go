package guard

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"pattern-trader/internal/core"
)

var (
	ErrBalanceExceeded = errors.New("order exceeds free balance")
	ErrBelowMinBalance = errors.New("order would breach minimum balance")
	ErrAboveMaxBalance = errors.New("order would breach maximum balance")
)

type BalanceCheck struct {
	Side  core.Side
	Base  string
	Quote string
	Qty   decimal.Decimal
	Price decimal.Decimal
	Free  core.Balances
	// Min and Max are per-asset thresholds. An absent asset has no limit.
	Min map[string]decimal.Decimal
	Max map[string]decimal.Decimal
}

// legs returns the spent asset and amount, then the acquired asset and amount.
func (c BalanceCheck) legs() (string, decimal.Decimal, string, decimal.Decimal) {
	notional := c.Qty.Mul(c.Price)
	if c.Side == core.Buy {
		return c.Quote, notional, c.Base, c.Qty
	}
	return c.Base, c.Qty, c.Quote, notional
}

// CheckBalance verifies the order against free balances and thresholds.
func CheckBalance(c BalanceCheck) error {
	spentAsset, spend, gotAsset, got := c.legs()
	free := c.Free.Free(spentAsset)
	if spend.GreaterThan(free) {
		return fmt.Errorf("%w: %s spend %s free %s", ErrBalanceExceeded, spentAsset, spend, free)
	}
	if floor, ok := c.Min[spentAsset]; ok {
		if rest := free.Sub(spend); rest.LessThan(floor) {
			return fmt.Errorf("%w: %s would be %s min %s", ErrBelowMinBalance, spentAsset, rest, floor)
		}
	}
	if ceiling, ok := c.Max[gotAsset]; ok {
		if total := c.Free.Free(gotAsset).Add(got); total.GreaterThan(ceiling) {
			return fmt.Errorf("%w: %s would be %s max %s", ErrAboveMaxBalance, gotAsset, total, ceiling)
		}
	}
	return nil
}

// SizeBuy returns the base quantity to buy at price: fraction of the free
// quote balance, reduced to keep the configured quote minimum.
func SizeBuy(free core.Balances, quote string, fraction, price decimal.Decimal, minimums map[string]decimal.Decimal, ctx core.Precision) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	amount := spendable(free.Free(quote), fraction, minimums, quote)
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return ctx.Div(amount, price)
}

// SizeSell returns the base quantity to sell: fraction of the free base
// balance, reduced to keep the configured base minimum.
func SizeSell(free core.Balances, base string, fraction decimal.Decimal, minimums map[string]decimal.Decimal, ctx core.Precision) decimal.Decimal {
	qty := spendable(free.Free(base), fraction, minimums, base)
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return ctx.Round(qty)
}

func spendable(free, fraction decimal.Decimal, minimums map[string]decimal.Decimal, asset string) decimal.Decimal {
	amount := free.Mul(fraction)
	if floor, ok := minimums[asset]; ok && free.Sub(amount).LessThan(floor) {
		amount = free.Sub(floor)
	}
	return amount
}
