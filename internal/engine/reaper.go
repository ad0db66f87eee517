package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pattern-trader/internal/core"
	"pattern-trader/internal/exchange"
)

// OrderJournal is the persistence the engine writes to.
type OrderJournal interface {
	RecordOrder(rec core.OrderRecord) error
	DeleteOrder(orderID string) error
}

// Reaper cancels open orders that outlived their lifetime.
type Reaper struct {
	Exchange exchange.Exchange
	Journal  OrderJournal
	Lifetime time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

// Reap cancels every open order on symbol older than the lifetime and drops
// it from the journal. An order the exchange no longer knows counts as
// reaped. Other failures are collected; the remaining orders are still tried.
func (r *Reaper) Reap(ctx context.Context, symbol string) ([]core.Order, error) {
	if r.Lifetime <= 0 {
		return nil, nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	open, err := r.Exchange.OpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}
	var (
		reaped []core.Order
		errs   []error
	)
	at := now()
	for _, o := range open {
		age := at.Sub(o.CreatedAt)
		if o.CreatedAt.IsZero() || age <= r.Lifetime {
			continue
		}
		err := r.Exchange.CancelOrder(ctx, symbol, o.ID)
		gone := errors.Is(err, core.ErrOrderNotFound)
		if err != nil && !gone {
			errs = append(errs, fmt.Errorf("cancel %s %s: %w", symbol, o.ID, err))
			continue
		}
		if r.Journal != nil {
			if err := r.Journal.DeleteOrder(o.ID); err != nil {
				errs = append(errs, fmt.Errorf("journal delete %s: %w", o.ID, err))
			}
		}
		logger.Info("order_reaped",
			zap.String("symbol", symbol),
			zap.String("order_id", o.ID),
			zap.String("side", string(o.Side)),
			zap.String("qty", o.Qty.String()),
			zap.String("price", o.Price.String()),
			zap.Duration("age", age.Round(time.Second)),
			zap.Bool("already_gone", gone),
		)
		reaped = append(reaped, o)
	}
	return reaped, errors.Join(errs...)
}
