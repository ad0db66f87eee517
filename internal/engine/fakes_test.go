package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pattern-trader/internal/config"
	"pattern-trader/internal/core"
	"pattern-trader/internal/pattern"
	"pattern-trader/internal/signal"
	"pattern-trader/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeExchange struct {
	mu sync.Mutex

	balances    core.Balances
	balancesErr error
	rules       core.Rules
	candles     []core.Candle
	open        []core.Order
	history     []core.Order
	placeErr    error
	cancelErr   error
	panicOn     string

	balanceCalls int
	historySince []time.Time
	placed       []core.OrderIntent
	cancelled    []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balances: core.Balances{
			"IOTA": decimal.RequireFromString("1000"),
			"ETH":  decimal.RequireFromString("1"),
		},
		rules:   testRules("IOTAETH"),
		candles: flatCandles(10, "0.0005"),
	}
}

func testRules(symbol string) core.Rules {
	notional := decimal.RequireFromString("0.01")
	return core.Rules{
		Symbol:         symbol,
		Status:         core.StatusTrading,
		BasePrecision:  8,
		QuotePrecision: 8,
		Price: &core.PriceFilter{
			MinPrice: decimal.RequireFromString("0.00000001"),
			TickSize: decimal.RequireFromString("0.00000001"),
		},
		Lot: &core.LotSize{
			MinQty:   decimal.RequireFromString("1"),
			StepSize: decimal.RequireFromString("1"),
		},
		MinNotional: &notional,
	}
}

func flatCandles(n int, price string) []core.Candle {
	p := decimal.RequireFromString(price)
	out := make([]core.Candle, n)
	for i := range out {
		out[i] = core.Candle{
			OpenTime: testNow.Add(time.Duration(i-n) * 5 * time.Minute),
			Open:     p,
			High:     p,
			Low:      p,
			Close:    p,
			Volume:   decimal.NewFromInt(100),
		}
	}
	return out
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) Balances(_ context.Context, assets ...string) (core.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == "balances" {
		panic("boom")
	}
	f.balanceCalls++
	if f.balancesErr != nil {
		return nil, f.balancesErr
	}
	out := core.Balances{}
	for _, a := range assets {
		out[a] = f.balances.Free(a)
	}
	return out, nil
}

func (f *fakeExchange) Klines(_ context.Context, _, _ string, _ int) ([]core.Candle, error) {
	return f.candles, nil
}

func (f *fakeExchange) Rules(_ context.Context, symbol string) (core.Rules, error) {
	r := f.rules
	r.Symbol = symbol
	return r, nil
}

func (f *fakeExchange) OpenOrders(_ context.Context, _ string) ([]core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Order(nil), f.open...), nil
}

func (f *fakeExchange) AllOrders(_ context.Context, _ string, since time.Time) ([]core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historySince = append(f.historySince, since)
	return f.history, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, intent core.OrderIntent) (core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return core.Order{}, f.placeErr
	}
	f.placed = append(f.placed, intent)
	return core.Order{
		ID:        fmt.Sprintf("%d", len(f.placed)),
		ClientID:  fmt.Sprintf("pt-%d", len(f.placed)),
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Type:      core.Limit,
		Price:     intent.Price,
		Qty:       intent.Qty,
		Status:    core.OrderNew,
		CreatedAt: testNow,
	}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type memJournal struct {
	orders   map[string]core.OrderRecord
	patterns []store.PatternRecord
	updates  int
	failRec  error
}

func newMemJournal() *memJournal {
	return &memJournal{orders: map[string]core.OrderRecord{}}
}

func (j *memJournal) RecordOrder(rec core.OrderRecord) error {
	if j.failRec != nil {
		return j.failRec
	}
	j.orders[rec.OrderID] = rec
	return nil
}

func (j *memJournal) DeleteOrder(orderID string) error {
	delete(j.orders, orderID)
	return nil
}

func (j *memJournal) RecordPattern(rec store.PatternRecord) error {
	j.patterns = append(j.patterns, rec)
	return nil
}

func (j *memJournal) UpdatePatternOutcomes(_, _ string, _ decimal.Decimal, _ time.Time) (int, error) {
	j.updates++
	return 0, nil
}

type notice struct {
	kind   string
	event  string
	err    error
	fields map[string]string
}

type recordingNotifier struct {
	notices []notice
}

func (n *recordingNotifier) Order(event string, fields map[string]string) {
	n.notices = append(n.notices, notice{kind: "order", event: event, fields: fields})
}

func (n *recordingNotifier) Error(event string, err error, fields map[string]string) bool {
	n.notices = append(n.notices, notice{kind: "error", event: event, err: err, fields: fields})
	return true
}

type statusLog struct {
	states []string
	last   store.RuntimeStatus
}

func (s *statusLog) SaveRuntimeStatus(st store.RuntimeStatus) error {
	s.states = append(s.states, st.State)
	s.last = st
	return nil
}

// fixedRegistry reports value on the last candle of every series.
func fixedRegistry(value int) *signal.Aggregator {
	return signal.NewAggregator(signal.Registry{{
		Name: "Fixed",
		Func: func(s pattern.Series) []int {
			out := make([]int, len(s.Close))
			if len(out) > 0 {
				out[len(out)-1] = value
			}
			return out
		},
	}})
}

func testPair(base, quote string) config.SymbolPair {
	return config.SymbolPair{
		Base:         base,
		Quote:        quote,
		BuyFraction:  config.MustDecimal("0.1"),
		SellFraction: config.MustDecimal("0.1"),
	}
}

func testConfig(pairs ...config.SymbolPair) config.Config {
	return config.Config{
		Mode:             config.ModeTestnet,
		KlineInterval:    "5m",
		KlineLimit:       500,
		SleepSec:         300,
		OrderLifetimeSec: 600,
		SymbolPairs:      pairs,
		PriceCheck: config.PriceCheckConfig{
			MinOrders:        5,
			BuyTolerance:     config.MustDecimal("1.0005"),
			SellTolerance:    config.MustDecimal("1.0005"),
			SellLookbackDays: intPtr(7),
		},
		Retry: config.RetryConfig{MaxAttempts: 3, MinBackoffSec: 5, MaxBackoffSec: 120},
	}
}

func newTestRunner(t *testing.T, ex *fakeExchange, value int) (*Runner, *memJournal, *recordingNotifier) {
	t.Helper()
	j := newMemJournal()
	n := &recordingNotifier{}
	return &Runner{
		Exchange:   ex,
		Journal:    j,
		Aggregator: fixedRegistry(value),
		Notifier:   n,
		Now:        func() time.Time { return testNow },
	}, j, n
}

var errBoom = errors.New("boom")

func intPtr(v int) *int { return &v }
