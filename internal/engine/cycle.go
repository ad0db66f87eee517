package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pattern-trader/internal/config"
	"pattern-trader/internal/core"
	"pattern-trader/internal/guard"
	"pattern-trader/internal/store"
)

// Journal is the order and pattern log the cycle writes to.
type Journal interface {
	OrderJournal
	RecordPattern(rec store.PatternRecord) error
	UpdatePatternOutcomes(base, quote string, price decimal.Decimal, now time.Time) (int, error)
}

// Notifier delivers order reports and throttled error reports.
type Notifier interface {
	Order(event string, fields map[string]string)
	Error(event string, err error, fields map[string]string) bool
}

type PairResult struct {
	Pair       string
	Outcome    PairOutcome
	Indication float64
	Side       core.Side
	Order      *core.Order
	// Reason names why no order was placed for a refused pair.
	Reason string
	Err    error
}

type CycleResult struct {
	Outcome Outcome
	Pairs   []PairResult
	Err     error
}

// RunCycle makes one pass over the configured pairs. Pairs run one after
// another and each re-reads balances and rules, so two pairs sharing an
// asset never act on the same snapshot.
func (r *Runner) RunCycle(ctx context.Context, cfg config.Config) CycleResult {
	res := CycleResult{Pairs: make([]PairResult, 0, len(cfg.SymbolPairs))}
	aborted := false
	for _, pair := range cfg.SymbolPairs {
		if aborted || ctx.Err() != nil {
			res.Pairs = append(res.Pairs, PairResult{Pair: pair.String(), Outcome: PairAborted, Err: ctx.Err()})
			continue
		}
		r.setState(StatePerPairAnalysis)
		pr := r.runPair(ctx, cfg, pair)
		res.Pairs = append(res.Pairs, pr)
		if pr.Outcome == PairFailed && cfg.Strict {
			r.logger().Warn("cycle_aborted_strict", zap.String("pair", pr.Pair), zap.Error(pr.Err))
			aborted = true
		}
	}

	r.setState(StateNotifying)
	for _, pr := range res.Pairs {
		if pr.Order != nil {
			r.notifyOrder(pr)
		}
	}
	res.Outcome, res.Err = summarize(res.Pairs)
	if res.Err == nil && ctx.Err() != nil {
		res.Err = ctx.Err()
	}
	return res
}

func summarize(pairs []PairResult) (Outcome, error) {
	var (
		failed int
		errs   []error
	)
	trouble := false
	for _, p := range pairs {
		switch p.Outcome {
		case PairFailed:
			failed++
			trouble = true
			errs = append(errs, fmt.Errorf("%s: %w", p.Pair, p.Err))
		case PairConfigError, PairSubmitFailed, PairAborted:
			trouble = true
		case PairOrdered:
			if p.Err != nil {
				trouble = true
				errs = append(errs, fmt.Errorf("%s: %w", p.Pair, p.Err))
			}
		}
	}
	err := errors.Join(errs...)
	switch {
	case len(pairs) > 0 && failed == len(pairs):
		return OutcomeFatal, err
	case trouble:
		return OutcomePartial, err
	default:
		return OutcomeSuccess, err
	}
}

func (r *Runner) runPair(ctx context.Context, cfg config.Config, pair config.SymbolPair) PairResult {
	res := PairResult{Pair: pair.String()}
	log := r.logger().With(zap.String("pair", res.Pair))
	if err := pair.Validate(); err != nil {
		log.Warn("pair_config_invalid", zap.Error(err))
		res.Outcome, res.Err = PairConfigError, err
		return res
	}
	symbol := pair.Symbol()
	fail := func(step string, err error) PairResult {
		log.Error("pair_failed", zap.String("step", step), zap.Error(err))
		res.Outcome, res.Err = PairFailed, fmt.Errorf("%s: %w", step, err)
		return res
	}

	balances, err := r.Exchange.Balances(ctx, pair.Base, pair.Quote)
	if err != nil {
		return fail("balances", err)
	}
	rules, err := r.Exchange.Rules(ctx, symbol)
	if err != nil {
		return fail("rules", err)
	}

	reaper := Reaper{
		Exchange: r.Exchange,
		Journal:  r.Journal,
		Lifetime: time.Duration(cfg.OrderLifetimeSec) * time.Second,
		Logger:   log,
		Now:      r.now,
	}
	reaped, err := reaper.Reap(ctx, symbol)
	r.Metrics.Reaped(res.Pair, len(reaped))
	if err != nil {
		return fail("reap", err)
	}
	if len(reaped) > 0 {
		// Cancelled orders release their locked funds.
		if balances, err = r.Exchange.Balances(ctx, pair.Base, pair.Quote); err != nil {
			return fail("balances", err)
		}
	}

	candles, err := r.Exchange.Klines(ctx, symbol, cfg.KlineInterval, cfg.KlineLimit)
	if err == nil {
		err = core.CheckCandleOrder(candles)
	}
	if err != nil {
		return fail("klines", err)
	}
	analysis := r.aggregator().Analyze(candles)
	res.Indication = analysis.Indication
	if len(analysis.Candles) == 0 {
		log.Info("no_candles")
		res.Outcome = PairNoSignal
		r.Metrics.Decision(res.Pair, "none", 0)
		return res
	}
	price := analysis.Candles[len(analysis.Candles)-1].Close
	now := r.now()
	if _, err := r.Journal.UpdatePatternOutcomes(pair.Base, pair.Quote, price, now); err != nil {
		return fail("pattern_outcomes", err)
	}

	r.setState(StateDeciding)
	side, ok := analysis.Side()
	if !ok {
		log.Info("no_pattern", zap.String("price", price.String()))
		r.Metrics.Decision(res.Pair, "none", 0)
		res.Outcome = PairNoSignal
		return res
	}
	res.Side = side
	r.Metrics.Decision(res.Pair, signalLabel(side), analysis.Indication)
	log.Info("patterns_recognized",
		zap.Float64("indication", analysis.Indication),
		zap.Any("patterns", analysis.Matches),
		zap.String("price", price.String()),
		zap.String(pair.Base, balances.Free(pair.Base).String()),
		zap.String(pair.Quote, balances.Free(pair.Quote).String()),
	)
	for _, m := range analysis.Matches {
		err := r.Journal.RecordPattern(store.PatternRecord{
			Time:       now,
			Base:       pair.Base,
			Quote:      pair.Quote,
			Pattern:    m.Name,
			Indication: m.Value,
			Price:      price,
		})
		if err != nil {
			return fail("record_pattern", err)
		}
	}

	return r.trade(ctx, cfg, pair, rules, balances, side, price, res, log)
}

func (r *Runner) trade(ctx context.Context, cfg config.Config, pair config.SymbolPair, rules core.Rules, balances core.Balances, side core.Side, price decimal.Decimal, res PairResult, log *zap.Logger) PairResult {
	refuse := func(reason string, err error) PairResult {
		log.Warn("order_refused", zap.String("side", string(side)), zap.String("reason", reason), zap.Error(err))
		r.Metrics.Rejected(res.Pair, reason)
		res.Outcome, res.Reason = PairRefused, reason
		return res
	}
	minimums := config.Decimals(cfg.MinBalance)
	maximums := config.Decimals(cfg.MaxBalance)

	r.setState(StateNormalizing)
	var qty decimal.Decimal
	if side == core.Buy {
		qty = guard.SizeBuy(balances, pair.Quote, pair.BuyFraction.Decimal, price, minimums, rules.BaseContext())
	} else {
		qty = guard.SizeSell(balances, pair.Base, pair.SellFraction.Decimal, minimums, rules.BaseContext())
	}
	if !qty.IsPositive() {
		return refuse("nothing_to_trade", fmt.Errorf("sized quantity %s", qty))
	}
	var floor decimal.Decimal
	if f, ok := cfg.MinNotionalFloor[pair.Quote]; ok {
		floor = f.Decimal
	}
	quote, err := core.NormalizeOrder(rules, qty, price, core.NormalizeOptions{NotionalFloor: floor})
	switch {
	case errors.Is(err, core.ErrSymbolNotTrading):
		return refuse("symbol_not_trading", err)
	case errors.Is(err, core.ErrFilterMissing):
		return refuse("filter_missing", err)
	case err != nil:
		return refuse("invalid_order", err)
	}

	r.setState(StateGuarding)
	err = guard.CheckBalance(guard.BalanceCheck{
		Side:  side,
		Base:  pair.Base,
		Quote: pair.Quote,
		Qty:   quote.Qty,
		Price: quote.Price,
		Free:  balances,
		Min:   minimums,
		Max:   maximums,
	})
	if err != nil {
		return refuse("balance", err)
	}
	if checkEnabled(pair, side) {
		since := lookbackStart(r.now(), pair, cfg.PriceCheck, side)
		history, err := r.Exchange.AllOrders(ctx, pair.Symbol(), since)
		if err != nil {
			log.Error("pair_failed", zap.String("step", "order_history"), zap.Error(err))
			res.Outcome, res.Err = PairFailed, fmt.Errorf("order_history: %w", err)
			return res
		}
		pg := guard.PriceGuard{
			MinOrders:     cfg.PriceCheck.MinOrders,
			BuyTolerance:  cfg.PriceCheck.BuyTolerance.Decimal,
			SellTolerance: cfg.PriceCheck.SellTolerance.Decimal,
		}
		summary := guard.History(history, side.Opposite(), since)
		if err := pg.Check(side, quote.Price, summary); err != nil {
			return refuse("price_check", err)
		}
	}

	r.setState(StateSubmitting)
	order, err := r.Exchange.PlaceOrder(ctx, core.OrderIntent{
		Symbol: pair.Symbol(),
		Side:   side,
		Qty:    quote.Qty,
		Price:  quote.Price,
	})
	if err != nil {
		log.Warn("order_submit_failed",
			zap.String("side", string(side)),
			zap.String("qty", quote.Qty.String()),
			zap.String("price", quote.Price.String()),
			zap.Error(err),
		)
		r.Metrics.Rejected(res.Pair, "exchange")
		res.Outcome, res.Err = PairSubmitFailed, err
		return res
	}
	res.Outcome, res.Order = PairOrdered, &order
	r.Metrics.OrderPlaced(res.Pair, string(side))
	log.Info("order_placed",
		zap.String("order_id", order.ID),
		zap.String("client_id", order.ClientID),
		zap.String("side", string(side)),
		zap.String("qty", order.Qty.String()),
		zap.String("price", order.Price.String()),
		zap.String("total", quote.Notional().String()),
	)
	err = r.Journal.RecordOrder(core.OrderRecord{
		Time:         order.CreatedAt,
		OrderID:      order.ID,
		Side:         side,
		Base:         pair.Base,
		Quote:        pair.Quote,
		Qty:          order.Qty,
		Price:        order.Price,
		BaseBalance:  balances.Free(pair.Base),
		QuoteBalance: balances.Free(pair.Quote),
	})
	if err != nil {
		log.Error("journal_record_order_failed", zap.String("order_id", order.ID), zap.Error(err))
		res.Err = fmt.Errorf("record order %s: %w", order.ID, err)
	}
	return res
}

func checkEnabled(pair config.SymbolPair, side core.Side) bool {
	if side == core.Buy {
		return pair.BuyCheckEnabled()
	}
	return pair.SellCheckEnabled()
}

// lookbackStart is the zero time when the window is unbounded.
func lookbackStart(now time.Time, pair config.SymbolPair, pc config.PriceCheckConfig, side core.Side) time.Time {
	fallback := pc.SellDays()
	if side == core.Buy {
		fallback = pc.BuyDays()
	}
	days := pair.LookbackDays(fallback)
	if days <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

func signalLabel(side core.Side) string {
	if side == core.Buy {
		return "buy"
	}
	return "sell"
}

func (r *Runner) notifyOrder(pr PairResult) {
	if r.Notifier == nil || pr.Order == nil {
		return
	}
	o := pr.Order
	r.Notifier.Order("order_placed", map[string]string{
		"pair":       pr.Pair,
		"order_id":   o.ID,
		"side":       string(o.Side),
		"qty":        o.Qty.String(),
		"price":      o.Price.String(),
		"total":      o.Qty.Mul(o.Price).String(),
		"indication": fmt.Sprintf("%.2f", pr.Indication),
	})
}
