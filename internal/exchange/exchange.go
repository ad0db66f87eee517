package exchange

import (
	"context"
	"time"

	"pattern-trader/internal/core"
)

// Exchange is the spot account surface the trade cycle needs. Every call
// reads fresh state; implementations must not cache rules or balances.
type Exchange interface {
	Name() string
	// Balances returns free balances for the given assets, or all assets when
	// none are given.
	Balances(ctx context.Context, assets ...string) (core.Balances, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error)
	Rules(ctx context.Context, symbol string) (core.Rules, error)
	OpenOrders(ctx context.Context, symbol string) ([]core.Order, error)
	// AllOrders returns historical orders created at or after since. A zero
	// since returns whatever history the exchange provides.
	AllOrders(ctx context.Context, symbol string, since time.Time) ([]core.Order, error)
	PlaceOrder(ctx context.Context, intent core.OrderIntent) (core.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
