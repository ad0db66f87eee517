package guard

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/core"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fill(side core.Side, price, qty string, status core.OrderStatus, at time.Time) core.Order {
	return core.Order{
		Symbol:      "IOTAETH",
		Side:        side,
		Price:       dec(price),
		Qty:         dec(qty),
		ExecutedQty: dec(qty),
		Status:      status,
		CreatedAt:   at,
	}
}

func TestHistoryWeightsByExecutedQuantity(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := []core.Order{
		fill(core.Sell, "10", "1", core.OrderFilled, now.Add(-time.Hour)),
		fill(core.Sell, "20", "3", core.OrderPartiallyFilled, now.Add(-2*time.Hour)),
		fill(core.Sell, "99", "5", core.OrderCanceled, now.Add(-time.Hour)),
		fill(core.Buy, "1", "5", core.OrderFilled, now.Add(-time.Hour)),
		fill(core.Sell, "50", "5", core.OrderFilled, now.Add(-30*24*time.Hour)),
	}

	got := History(orders, core.Sell, now.Add(-7*24*time.Hour))
	require.Equal(t, 2, got.Count)
	require.True(t, got.Average.Equal(dec("17.5")), "avg = %s", got.Average)

	unbounded := History(orders, core.Sell, time.Time{})
	require.Equal(t, 3, unbounded.Count)

	require.Equal(t, Summary{}, History(nil, core.Buy, time.Time{}))
}

func TestPriceGuardPassesOnSparseHistory(t *testing.T) {
	g := DefaultPriceGuard()
	require.NoError(t, g.CheckBuy(dec("1000"), Summary{}))
	require.NoError(t, g.CheckBuy(dec("1000"), Summary{Average: dec("1"), Count: 4}))
	require.NoError(t, g.CheckSell(dec("0.0001"), Summary{Average: dec("1"), Count: 4}))
}

func TestPriceGuardTolerance(t *testing.T) {
	g := DefaultPriceGuard()
	sells := Summary{Average: dec("100"), Count: 5}
	require.NoError(t, g.CheckBuy(dec("100.05"), sells))
	require.ErrorIs(t, g.CheckBuy(dec("100.06"), sells), ErrPriceOutOfRange)

	buys := Summary{Average: dec("100"), Count: 5}
	require.NoError(t, g.CheckSell(dec("100.05"), buys))
	require.ErrorIs(t, g.CheckSell(dec("100.04"), buys), ErrPriceOutOfRange)

	require.ErrorIs(t, g.Check(core.Sell, dec("99"), buys), ErrPriceOutOfRange)
	require.NoError(t, g.Check(core.Buy, dec("99"), sells))
}

func TestCheckBalance(t *testing.T) {
	free := core.Balances{"ETH": dec("1"), "IOTA": dec("100")}
	base := BalanceCheck{Base: "IOTA", Quote: "ETH", Free: free}

	buy := base
	buy.Side, buy.Qty, buy.Price = core.Buy, dec("1000"), dec("0.0005")
	require.NoError(t, CheckBalance(buy))

	buy.Qty = dec("3000")
	require.ErrorIs(t, CheckBalance(buy), ErrBalanceExceeded)

	buy.Qty = dec("1000")
	buy.Min = map[string]decimal.Decimal{"ETH": dec("0.6")}
	require.ErrorIs(t, CheckBalance(buy), ErrBelowMinBalance)

	buy.Min = nil
	buy.Max = map[string]decimal.Decimal{"IOTA": dec("1050")}
	require.ErrorIs(t, CheckBalance(buy), ErrAboveMaxBalance)

	sell := base
	sell.Side, sell.Qty, sell.Price = core.Sell, dec("100"), dec("0.0005")
	sell.Max = map[string]decimal.Decimal{"IOTA": dec("1")}
	require.NoError(t, CheckBalance(sell), "max applies to the acquired asset only")

	sell.Qty = dec("101")
	require.ErrorIs(t, CheckBalance(sell), ErrBalanceExceeded)
}

func TestSizing(t *testing.T) {
	ctx := core.NewPrecision(8)
	free := core.Balances{"ETH": dec("1"), "IOTA": dec("200")}

	qty := SizeBuy(free, "ETH", dec("0.5"), dec("0.001"), nil, ctx)
	require.True(t, qty.Equal(dec("500")), "qty = %s", qty)

	qty = SizeBuy(free, "ETH", dec("0.5"), dec("0.001"), map[string]decimal.Decimal{"ETH": dec("0.8")}, ctx)
	require.True(t, qty.Equal(dec("200")), "qty = %s", qty)

	qty = SizeBuy(free, "ETH", dec("0.5"), dec("0.001"), map[string]decimal.Decimal{"ETH": dec("2")}, ctx)
	require.True(t, qty.IsZero())

	qty = SizeSell(free, "IOTA", dec("0.25"), nil, ctx)
	require.True(t, qty.Equal(dec("50")), "qty = %s", qty)

	qty = SizeSell(free, "BTC", dec("0.25"), nil, ctx)
	require.True(t, qty.IsZero())
}
