package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pattern-trader/internal/config"
	"pattern-trader/internal/core"
	"pattern-trader/internal/metrics"
)

func TestRunCycleBuySignalPlacesNormalizedOrder(t *testing.T) {
	ex := newFakeExchange()
	r, j, n := newTestRunner(t, ex, 100)

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success (err=%v)", res.Outcome, res.Err)
	}
	if len(res.Pairs) != 1 || res.Pairs[0].Outcome != PairOrdered {
		t.Fatalf("pairs = %+v", res.Pairs)
	}
	if len(ex.placed) != 1 {
		t.Fatalf("placed = %d, want 1", len(ex.placed))
	}
	got := ex.placed[0]
	if got.Symbol != "IOTAETH" || got.Side != core.Buy {
		t.Fatalf("intent = %+v", got)
	}
	if !got.Qty.Equal(decimal.NewFromInt(200)) || !got.Price.Equal(decimal.RequireFromString("0.0005")) {
		t.Fatalf("qty/price = %s/%s, want 200/0.0005", got.Qty, got.Price)
	}

	rec, ok := j.orders["1"]
	if !ok {
		t.Fatalf("order not journaled: %+v", j.orders)
	}
	if !rec.QuoteBalance.Equal(decimal.NewFromInt(1)) || !rec.BaseBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("journaled balances = %s/%s", rec.BaseBalance, rec.QuoteBalance)
	}
	if rec.Base != "IOTA" || rec.Quote != "ETH" || rec.Side != core.Buy {
		t.Fatalf("record = %+v", rec)
	}
	if len(j.patterns) != 1 || j.patterns[0].Pattern != "Fixed" || j.patterns[0].Indication != 100 {
		t.Fatalf("patterns = %+v", j.patterns)
	}
	if j.updates != 1 {
		t.Fatalf("outcome updates = %d, want 1", j.updates)
	}
	if len(ex.historySince) != 1 || !ex.historySince[0].IsZero() {
		t.Fatalf("buy price check lookback = %v, want unbounded", ex.historySince)
	}
	if len(n.notices) != 1 || n.notices[0].kind != "order" || n.notices[0].fields["pair"] != "IOTA/ETH" {
		t.Fatalf("notices = %+v", n.notices)
	}
}

func TestRunCycleNoSignal(t *testing.T) {
	ex := newFakeExchange()
	r, j, n := newTestRunner(t, ex, 0)

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	if res.Outcome != OutcomeSuccess || res.Pairs[0].Outcome != PairNoSignal {
		t.Fatalf("result = %+v", res)
	}
	if len(ex.placed) != 0 || len(j.patterns) != 0 || len(n.notices) != 0 {
		t.Fatalf("unexpected side effects: placed=%d patterns=%d notices=%d", len(ex.placed), len(j.patterns), len(n.notices))
	}
	// Outcomes of earlier patterns are still tracked.
	if j.updates != 1 {
		t.Fatalf("outcome updates = %d, want 1", j.updates)
	}
}

func TestRunCycleSellRefusedByPriceCheck(t *testing.T) {
	ex := newFakeExchange()
	for i := 0; i < 5; i++ {
		ex.history = append(ex.history, core.Order{
			Side:        core.Buy,
			Price:       decimal.RequireFromString("0.001"),
			Qty:         decimal.NewFromInt(10),
			ExecutedQty: decimal.NewFromInt(10),
			Status:      core.OrderFilled,
			CreatedAt:   testNow.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	m := metrics.New()
	r, j, _ := newTestRunner(t, ex, -100)
	r.Metrics = m

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	pr := res.Pairs[0]
	if pr.Outcome != PairRefused || pr.Reason != "price_check" {
		t.Fatalf("pair = %+v", pr)
	}
	if pr.Side != core.Sell {
		t.Fatalf("side = %s, want SELL", pr.Side)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", res.Outcome)
	}
	if len(ex.placed) != 0 || len(j.orders) != 0 {
		t.Fatalf("order placed despite refusal")
	}
	want := testNow.Add(-7 * 24 * time.Hour)
	if len(ex.historySince) != 1 || !ex.historySince[0].Equal(want) {
		t.Fatalf("sell lookback = %v, want %v", ex.historySince, want)
	}
	// Patterns are recorded even when no order follows.
	if len(j.patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(j.patterns))
	}
}

func TestRunCyclePriceCheckDisabledPerPair(t *testing.T) {
	ex := newFakeExchange()
	ex.history = []core.Order{{
		Side: core.Buy, Price: decimal.RequireFromString("1"), ExecutedQty: decimal.NewFromInt(1),
		Status: core.OrderFilled, CreatedAt: testNow,
	}}
	r, _, _ := newTestRunner(t, ex, -100)
	off := false
	pair := testPair("IOTA", "ETH")
	pair.SellPriceCheck = &off

	res := r.RunCycle(context.Background(), testConfig(pair))
	if res.Pairs[0].Outcome != PairOrdered {
		t.Fatalf("pair = %+v", res.Pairs[0])
	}
	if len(ex.historySince) != 0 {
		t.Fatalf("history fetched with check disabled")
	}
}

func TestRunCycleBalanceRefusal(t *testing.T) {
	ex := newFakeExchange()
	r, _, _ := newTestRunner(t, ex, 100)
	cfg := testConfig(testPair("IOTA", "ETH"))
	cfg.MaxBalance = map[string]config.Decimal{"IOTA": config.MustDecimal("1100")}

	res := r.RunCycle(context.Background(), cfg)
	if pr := res.Pairs[0]; pr.Outcome != PairRefused || pr.Reason != "balance" {
		t.Fatalf("pair = %+v", pr)
	}
	if len(ex.placed) != 0 {
		t.Fatalf("placed = %d, want 0", len(ex.placed))
	}
}

func TestRunCycleNothingToTradeWhenMinimumConsumesBalance(t *testing.T) {
	ex := newFakeExchange()
	r, _, _ := newTestRunner(t, ex, 100)
	cfg := testConfig(testPair("IOTA", "ETH"))
	cfg.MinBalance = map[string]config.Decimal{"ETH": config.MustDecimal("1")}

	res := r.RunCycle(context.Background(), cfg)
	if pr := res.Pairs[0]; pr.Outcome != PairRefused || pr.Reason != "nothing_to_trade" {
		t.Fatalf("pair = %+v", pr)
	}
}

func TestRunCycleSymbolNotTradingIsRefusal(t *testing.T) {
	ex := newFakeExchange()
	ex.rules.Status = "BREAK"
	r, _, _ := newTestRunner(t, ex, 100)

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	if pr := res.Pairs[0]; pr.Outcome != PairRefused || pr.Reason != "symbol_not_trading" {
		t.Fatalf("pair = %+v", pr)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}

func TestRunCycleNotionalFloorRaisesQuantity(t *testing.T) {
	ex := newFakeExchange()
	r, _, _ := newTestRunner(t, ex, 100)
	cfg := testConfig(testPair("IOTA", "ETH"))
	cfg.MinNotionalFloor = map[string]config.Decimal{"ETH": config.MustDecimal("0.15")}

	res := r.RunCycle(context.Background(), cfg)
	if res.Pairs[0].Outcome != PairOrdered {
		t.Fatalf("pair = %+v", res.Pairs[0])
	}
	if got := ex.placed[0].Qty; !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("qty = %s, want 300", got)
	}
}

func TestRunCycleSubmitFailureIsPartial(t *testing.T) {
	ex := newFakeExchange()
	ex.placeErr = core.ErrOrderRejected
	r, j, n := newTestRunner(t, ex, 100)

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	if pr := res.Pairs[0]; pr.Outcome != PairSubmitFailed || !errors.Is(pr.Err, core.ErrOrderRejected) {
		t.Fatalf("pair = %+v", pr)
	}
	if res.Outcome != OutcomePartial {
		t.Fatalf("outcome = %s, want partial", res.Outcome)
	}
	if len(j.orders) != 0 || len(n.notices) != 0 {
		t.Fatalf("journal/notices should be empty")
	}
}

func TestRunCycleInvalidPairSkipsOnlyItself(t *testing.T) {
	ex := newFakeExchange()
	r, _, _ := newTestRunner(t, ex, 100)
	bad := testPair("IOTA", "IOTA")

	res := r.RunCycle(context.Background(), testConfig(bad, testPair("IOTA", "ETH")))
	if res.Pairs[0].Outcome != PairConfigError || !errors.Is(res.Pairs[0].Err, config.ErrInvalidPair) {
		t.Fatalf("first pair = %+v", res.Pairs[0])
	}
	if res.Pairs[1].Outcome != PairOrdered {
		t.Fatalf("second pair = %+v", res.Pairs[1])
	}
	if res.Outcome != OutcomePartial {
		t.Fatalf("outcome = %s, want partial", res.Outcome)
	}
}

func TestRunCycleAllPairsFailedIsFatal(t *testing.T) {
	ex := newFakeExchange()
	ex.balancesErr = errBoom
	r, _, _ := newTestRunner(t, ex, 100)

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH"), testPair("ADA", "BTC")))
	if res.Outcome != OutcomeFatal {
		t.Fatalf("outcome = %s, want fatal", res.Outcome)
	}
	if !errors.Is(res.Err, errBoom) {
		t.Fatalf("err = %v, want boom", res.Err)
	}
	for _, p := range res.Pairs {
		if p.Outcome != PairFailed {
			t.Fatalf("pair = %+v", p)
		}
	}
}

func TestRunCycleRejectsUnorderedCandles(t *testing.T) {
	ex := newFakeExchange()
	ex.candles[3].OpenTime = ex.candles[2].OpenTime
	r, j, _ := newTestRunner(t, ex, 100)

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	if res.Pairs[0].Outcome != PairFailed || !errors.Is(res.Pairs[0].Err, core.ErrCandleOrder) {
		t.Fatalf("pair = %+v, want candle order failure", res.Pairs[0])
	}
	if len(ex.placed) != 0 || len(j.patterns) != 0 {
		t.Fatalf("unordered window must not be analyzed")
	}
}

func TestRunCycleStrictAbortsRemainingPairs(t *testing.T) {
	ex := newFakeExchange()
	ex.balancesErr = errBoom
	r, _, _ := newTestRunner(t, ex, 100)
	cfg := testConfig(testPair("IOTA", "ETH"), testPair("ADA", "BTC"))
	cfg.Strict = true

	res := r.RunCycle(context.Background(), cfg)
	if res.Pairs[0].Outcome != PairFailed || res.Pairs[1].Outcome != PairAborted {
		t.Fatalf("pairs = %+v", res.Pairs)
	}
	if ex.balanceCalls != 1 {
		t.Fatalf("balance calls = %d, want 1", ex.balanceCalls)
	}
	if res.Outcome != OutcomePartial {
		t.Fatalf("outcome = %s, want partial", res.Outcome)
	}
}

func TestRunCycleReapsStaleOrdersAndRereadsBalances(t *testing.T) {
	ex := newFakeExchange()
	ex.open = []core.Order{
		{ID: "old", Side: core.Buy, CreatedAt: testNow.Add(-time.Hour)},
		{ID: "fresh", Side: core.Sell, CreatedAt: testNow.Add(-time.Minute)},
	}
	r, j, _ := newTestRunner(t, ex, 0)
	j.orders["old"] = core.OrderRecord{OrderID: "old"}
	j.orders["fresh"] = core.OrderRecord{OrderID: "fresh"}

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	if len(ex.cancelled) != 1 || ex.cancelled[0] != "old" {
		t.Fatalf("cancelled = %v", ex.cancelled)
	}
	if _, ok := j.orders["old"]; ok {
		t.Fatalf("reaped order still journaled")
	}
	if _, ok := j.orders["fresh"]; !ok {
		t.Fatalf("fresh order dropped from journal")
	}
	if ex.balanceCalls != 2 {
		t.Fatalf("balance calls = %d, want 2", ex.balanceCalls)
	}
}

func TestRunCycleJournalFailureKeepsOrder(t *testing.T) {
	ex := newFakeExchange()
	r, j, n := newTestRunner(t, ex, 100)
	j.failRec = errBoom

	res := r.RunCycle(context.Background(), testConfig(testPair("IOTA", "ETH")))
	pr := res.Pairs[0]
	if pr.Outcome != PairOrdered || pr.Order == nil || !errors.Is(pr.Err, errBoom) {
		t.Fatalf("pair = %+v", pr)
	}
	if res.Outcome != OutcomePartial {
		t.Fatalf("outcome = %s, want partial", res.Outcome)
	}
	if len(n.notices) != 1 || n.notices[0].kind != "order" {
		t.Fatalf("order notice missing: %+v", n.notices)
	}
}

func TestRunCycleCancelledContextAbortsPairs(t *testing.T) {
	ex := newFakeExchange()
	r, _, _ := newTestRunner(t, ex, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.RunCycle(ctx, testConfig(testPair("IOTA", "ETH")))
	if res.Pairs[0].Outcome != PairAborted {
		t.Fatalf("pair = %+v", res.Pairs[0])
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", res.Err)
	}
}

func TestLookbackStart(t *testing.T) {
	pc := config.PriceCheckConfig{SellLookbackDays: intPtr(7)}
	pair := testPair("IOTA", "ETH")
	if got := lookbackStart(testNow, pair, pc, core.Buy); !got.IsZero() {
		t.Fatalf("buy since = %v, want zero", got)
	}
	if got := lookbackStart(testNow, pair, pc, core.Sell); !got.Equal(testNow.AddDate(0, 0, -7)) {
		t.Fatalf("sell since = %v", got)
	}
	days := 2
	pair.CheckDays = &days
	if got := lookbackStart(testNow, pair, pc, core.Buy); !got.Equal(testNow.AddDate(0, 0, -2)) {
		t.Fatalf("override since = %v", got)
	}
	pc.SellLookbackDays = intPtr(0)
	if got := lookbackStart(testNow, testPair("IOTA", "ETH"), pc, core.Sell); !got.IsZero() {
		t.Fatalf("unbounded sell since = %v, want zero", got)
	}
}
