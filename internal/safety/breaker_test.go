package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pattern-trader/internal/core"
	"pattern-trader/internal/exchange"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(maxPlace, maxCancel int, cooldown time.Duration) (*Breaker, *clock) {
	b := NewBreaker(true, maxPlace, maxCancel, cooldown)
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b.now = c.now
	return b, c
}

type alertSpy struct{ events []string }

func (a *alertSpy) Important(event string, _ map[string]string) { a.events = append(a.events, event) }

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 3, time.Minute)
	spy := &alertSpy{}
	b.SetAlerter(spy)

	for i := 0; i < 2; i++ {
		if err := b.Record(ActionPlace, errors.New("timeout")); err != nil {
			t.Fatalf("Record(failure %d) error = %v, want nil", i+1, err)
		}
	}
	// A success in between resets the count.
	if err := b.Record(ActionPlace, nil); err != nil {
		t.Fatalf("Record(success) error = %v", err)
	}
	for i := 0; i < 2; i++ {
		_ = b.Record(ActionPlace, errors.New("timeout"))
	}
	if err := b.Allow(ActionPlace); err != nil {
		t.Fatalf("Allow() error = %v before trip", err)
	}
	tripErr := b.Record(ActionPlace, errors.New("timeout"))
	if !errors.Is(tripErr, ErrCircuitOpen) {
		t.Fatalf("Record(third) error = %v, want ErrCircuitOpen", tripErr)
	}
	if err := b.Allow(ActionPlace); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() error = %v, want ErrCircuitOpen", err)
	}
	if err := b.Allow(ActionCancel); err != nil {
		t.Fatalf("cancel circuit affected by place trip: %v", err)
	}
	if len(spy.events) != 1 || spy.events[0] != "circuit_breaker_trip" {
		t.Fatalf("alerts = %v", spy.events)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(1, 1, time.Minute)

	if err := b.Record(ActionCancel, errors.New("timeout")); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Record() error = %v, want ErrCircuitOpen", err)
	}
	if rem := b.CooldownRemaining(ActionCancel); rem != time.Minute {
		t.Fatalf("CooldownRemaining() = %s, want 1m", rem)
	}

	clk.t = clk.t.Add(time.Minute)
	if err := b.Allow(ActionCancel); err != nil {
		t.Fatalf("Allow(after cooldown) error = %v", err)
	}
	if err := b.Record(ActionCancel, nil); err != nil {
		t.Fatalf("Record(probe success) error = %v", err)
	}
	if rem := b.CooldownRemaining(ActionCancel); rem != 0 {
		t.Fatalf("CooldownRemaining() = %s, want 0 after recovery", rem)
	}
	if err := b.Allow(ActionCancel); err != nil {
		t.Fatalf("Allow() error = %v after recovery", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, 2, time.Minute)
	_ = b.Record(ActionPlace, errors.New("a"))
	_ = b.Record(ActionPlace, errors.New("b"))

	clk.t = clk.t.Add(2 * time.Minute)
	if err := b.Allow(ActionPlace); err != nil {
		t.Fatalf("Allow(after cooldown) error = %v", err)
	}
	if err := b.Record(ActionPlace, errors.New("probe failed")); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Record(probe failure) error = %v, want ErrCircuitOpen", err)
	}
	if err := b.Allow(ActionPlace); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() error = %v, want ErrCircuitOpen after re-open", err)
	}
}

func TestBreakerDisabledOrNil(t *testing.T) {
	b := NewBreaker(false, 1, 1, time.Second)
	if err := b.Record(ActionPlace, errors.New("x")); err != nil {
		t.Fatalf("disabled Record() error = %v", err)
	}
	var nilBreaker *Breaker
	if err := nilBreaker.Allow(ActionPlace); err != nil {
		t.Fatalf("nil Allow() error = %v", err)
	}
	if err := nilBreaker.Record(ActionPlace, errors.New("x")); err != nil {
		t.Fatalf("nil Record() error = %v", err)
	}
}

type fakeExchange struct {
	exchange.Exchange
	placeErr  error
	cancelErr error
	placed    int
	cancelled int
}

func (f *fakeExchange) PlaceOrder(_ context.Context, intent core.OrderIntent) (core.Order, error) {
	f.placed++
	if f.placeErr != nil {
		return core.Order{}, f.placeErr
	}
	return core.Order{ID: "1", Symbol: intent.Symbol, Side: intent.Side, Qty: intent.Qty, Price: intent.Price}, nil
}

func (f *fakeExchange) CancelOrder(context.Context, string, string) error {
	f.cancelled++
	return f.cancelErr
}

func TestGuardedExchangeStopsCallingWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(2, 2, time.Minute)
	inner := &fakeExchange{placeErr: errors.New("connection reset")}
	g := NewGuardedExchange(inner, b)
	intent := core.OrderIntent{Symbol: "IOTAETH", Side: core.Buy, Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}

	if _, err := g.PlaceOrder(context.Background(), intent); errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("first failure tripped the circuit")
	}
	_, err := g.PlaceOrder(context.Background(), intent)
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, inner.placeErr) {
		t.Fatalf("tripping call error = %v, want both the cause and ErrCircuitOpen", err)
	}
	if _, err := g.PlaceOrder(context.Background(), intent); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit error = %v", err)
	}
	if inner.placed != 2 {
		t.Fatalf("inner PlaceOrder calls = %d, want 2", inner.placed)
	}
}

func TestGuardedExchangeIgnoresRejectionsAndMissingOrders(t *testing.T) {
	b, _ := newTestBreaker(1, 1, time.Minute)
	inner := &fakeExchange{
		placeErr:  errors.Join(errors.New("api -2010"), core.ErrInsufficientBalance),
		cancelErr: core.ErrOrderNotFound,
	}
	g := NewGuardedExchange(inner, b)
	intent := core.OrderIntent{Symbol: "IOTAETH", Side: core.Sell, Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}

	for i := 0; i < 3; i++ {
		if _, err := g.PlaceOrder(context.Background(), intent); !errors.Is(err, core.ErrInsufficientBalance) || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("PlaceOrder() error = %v, want plain rejection", err)
		}
		if err := g.CancelOrder(context.Background(), "IOTAETH", "1"); !errors.Is(err, core.ErrOrderNotFound) {
			t.Fatalf("CancelOrder() error = %v", err)
		}
	}
	if inner.placed != 3 || inner.cancelled != 3 {
		t.Fatalf("calls = %d/%d, want 3/3", inner.placed, inner.cancelled)
	}
}
