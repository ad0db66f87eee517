// Package guard holds the pure pre-submission checks: price sanity against
// recent fills and balance thresholds.
package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pattern-trader/internal/core"
)

var ErrPriceOutOfRange = errors.New("price outside historical fill range")

const DefaultMinOrders = 5

var DefaultTolerance = decimal.RequireFromString("1.0005")

// Summary is the executed-quantity-weighted average price of historical fills.
type Summary struct {
	Average decimal.Decimal
	Count   int
}

// History summarizes executed orders on side created after since. A zero
// since means no lower bound.
func History(orders []core.Order, side core.Side, since time.Time) Summary {
	var (
		notional decimal.Decimal
		executed decimal.Decimal
		count    int
	)
	for _, o := range orders {
		if o.Side != side || !o.Status.Executed() {
			continue
		}
		if !since.IsZero() && o.CreatedAt.Before(since) {
			continue
		}
		if !o.ExecutedQty.IsPositive() {
			continue
		}
		notional = notional.Add(o.Price.Mul(o.ExecutedQty))
		executed = executed.Add(o.ExecutedQty)
		count++
	}
	if count == 0 {
		return Summary{}
	}
	return Summary{Average: notional.Div(executed), Count: count}
}

// PriceGuard rejects orders that would trade against the recent opposite
// side at a loss beyond the tolerance multiplier.
type PriceGuard struct {
	MinOrders     int
	BuyTolerance  decimal.Decimal
	SellTolerance decimal.Decimal
}

func DefaultPriceGuard() PriceGuard {
	return PriceGuard{
		MinOrders:     DefaultMinOrders,
		BuyTolerance:  DefaultTolerance,
		SellTolerance: DefaultTolerance,
	}
}

// CheckBuy compares a buy price with the average of recent sells.
func (g PriceGuard) CheckBuy(price decimal.Decimal, sells Summary) error {
	if sells.Count == 0 || sells.Count < g.MinOrders {
		return nil
	}
	limit := sells.Average.Mul(tolerance(g.BuyTolerance))
	if price.GreaterThan(limit) {
		return fmt.Errorf("%w: buy %s above sell average %s over %d orders",
			ErrPriceOutOfRange, price, sells.Average, sells.Count)
	}
	return nil
}

// CheckSell compares a sell price with the average of recent buys.
func (g PriceGuard) CheckSell(price decimal.Decimal, buys Summary) error {
	if buys.Count == 0 || buys.Count < g.MinOrders {
		return nil
	}
	limit := buys.Average.Mul(tolerance(g.SellTolerance))
	if price.LessThan(limit) {
		return fmt.Errorf("%w: sell %s below buy average %s over %d orders",
			ErrPriceOutOfRange, price, buys.Average, buys.Count)
	}
	return nil
}

// Check dispatches on the side of the order being placed; history holds the
// opposite side's fills.
func (g PriceGuard) Check(side core.Side, price decimal.Decimal, history Summary) error {
	if side == core.Buy {
		return g.CheckBuy(price, history)
	}
	return g.CheckSell(price, history)
}

func tolerance(t decimal.Decimal) decimal.Decimal {
	if t.IsPositive() {
		return t
	}
	return DefaultTolerance
}
