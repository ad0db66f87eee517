// Command pairscheck runs the read-only half of a trade cycle for every
// configured pair and prints what the trader would see. It never places or
// cancels orders.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pattern-trader/internal/config"
	"pattern-trader/internal/core"
	"pattern-trader/internal/exchange"
	"pattern-trader/internal/exchange/binance"
	"pattern-trader/internal/signal"
	"pattern-trader/internal/store"
)

// history is the read side of the order and pattern log.
type history interface {
	Orders() ([]core.OrderRecord, error)
	Patterns(base, quote string) ([]store.PatternRecord, error)
}

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type pairReport struct {
	Pair       string        `json:"pair"`
	Indication float64       `json:"indication"`
	Signal     string        `json:"signal"`
	Checks     []checkResult `json:"checks"`
}

type report struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Mode       config.Mode  `json:"mode"`
	Pairs      []pairReport `json:"pairs"`
}

func (r report) failed() bool {
	for _, p := range r.Pairs {
		for _, c := range p.Checks {
			if c.Status == statusFail {
				return true
			}
		}
	}
	return false
}

func main() {
	var (
		configPath  string
		envPath     string
		timeoutSec  int
		outJSONPath string
		journal     bool
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&envPath, "env", ".env", "dotenv file with secrets")
	flag.IntVar(&timeoutSec, "timeout-sec", 60, "total timeout seconds")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&journal, "journal", false, "also summarize the order and pattern log; the trader must be stopped")
	flag.Parse()

	if err := config.LoadEnv(envPath); err != nil {
		fatal(err.Error())
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if timeoutSec < 10 {
		timeoutSec = 10
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	client, err := binance.NewClient(cfg.Exchange)
	if err != nil {
		fatal(err.Error())
	}
	defer client.Close()

	var hist history
	if journal {
		st, err := store.New(filepath.Join(cfg.State.Dir, string(cfg.Mode)), nil)
		if err != nil {
			fatal(err.Error())
		}
		j, err := st.OpenJournal()
		if err != nil {
			fatal(err.Error())
		}
		defer j.Close()
		hist = j
	}

	r := check(ctx, client, signal.NewAggregator(nil), hist, cfg)
	for _, p := range r.Pairs {
		fmt.Printf("%s signal=%s indication=%.2f\n", p.Pair, p.Signal, p.Indication)
		for _, c := range p.Checks {
			line := fmt.Sprintf("  [%s] %s (%dms)", c.Status, c.Name, c.DurationMs)
			if c.Detail != "" {
				line += " " + c.Detail
			}
			if c.Error != "" {
				line += " error=" + c.Error
			}
			fmt.Println(line)
		}
	}
	if outJSONPath != "" {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			fatal(err.Error())
		}
		if err := os.WriteFile(outJSONPath, data, 0o644); err != nil {
			fatal(err.Error())
		}
	}
	if r.failed() {
		os.Exit(1)
	}
}

// check runs every step for every pair. hist may be nil, which skips the
// journal step.
func check(ctx context.Context, ex exchange.Exchange, agg *signal.Aggregator, hist history, cfg config.Config) report {
	r := report{StartedAt: time.Now().UTC(), Mode: cfg.Mode}
	var orders []core.OrderRecord
	var ordersErr error
	if hist != nil {
		orders, ordersErr = hist.Orders()
	}
	for _, pair := range cfg.SymbolPairs {
		pr := checkPair(ctx, ex, agg, cfg, pair)
		if hist != nil && len(pr.Checks) > 1 {
			pr.Checks = append(pr.Checks, timed("journal", func() (string, error) {
				if ordersErr != nil {
					return "", ordersErr
				}
				return journalSummary(hist, orders, pair)
			}))
		}
		r.Pairs = append(r.Pairs, pr)
	}
	r.FinishedAt = time.Now().UTC()
	return r
}

func checkPair(ctx context.Context, ex exchange.Exchange, agg *signal.Aggregator, cfg config.Config, pair config.SymbolPair) pairReport {
	pr := pairReport{Pair: pair.String(), Signal: "none"}
	run := func(name string, fn func() (string, error)) bool {
		res := timed(name, fn)
		pr.Checks = append(pr.Checks, res)
		return res.Status == statusPass
	}

	if !run("pair_config", func() (string, error) { return "", pair.Validate() }) {
		return pr
	}
	run("rules", func() (string, error) {
		rules, err := ex.Rules(ctx, pair.Symbol())
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("status=%s base_precision=%d quote_precision=%d", rules.Status, rules.BasePrecision, rules.QuotePrecision)
		if rules.Price == nil || rules.Lot == nil {
			return detail, fmt.Errorf("%w: price or lot filter absent", core.ErrFilterMissing)
		}
		return detail, nil
	})
	run("balances", func() (string, error) {
		b, err := ex.Balances(ctx, pair.Base, pair.Quote)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s=%s %s=%s", pair.Base, b.Free(pair.Base), pair.Quote, b.Free(pair.Quote)), nil
	})
	run("open_orders", func() (string, error) {
		open, err := ex.OpenOrders(ctx, pair.Symbol())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("count=%d", len(open)), nil
	})
	run("analysis", func() (string, error) {
		candles, err := ex.Klines(ctx, pair.Symbol(), cfg.KlineInterval, cfg.KlineLimit)
		if err != nil {
			return "", err
		}
		if err := core.CheckCandleOrder(candles); err != nil {
			return "", err
		}
		res := agg.Analyze(candles)
		pr.Indication = res.Indication
		if side, ok := res.Side(); ok {
			pr.Signal = string(side)
		}
		return fmt.Sprintf("candles=%d matches=%d", len(res.Candles), len(res.Matches)), nil
	})
	return pr
}

func timed(name string, fn func() (string, error)) checkResult {
	started := time.Now()
	detail, err := fn()
	res := checkResult{
		Name:       name,
		Status:     statusPass,
		DurationMs: time.Since(started).Milliseconds(),
		Detail:     detail,
	}
	if err != nil {
		res.Status = statusFail
		res.Error = err.Error()
	}
	return res
}

// journalSummary counts the pair's logged orders and patterns and lists the
// outcome windows filled so far.
func journalSummary(hist history, orders []core.OrderRecord, pair config.SymbolPair) (string, error) {
	patterns, err := hist.Patterns(pair.Base, pair.Quote)
	if err != nil {
		return "", err
	}
	ordered := 0
	for _, o := range orders {
		if strings.EqualFold(o.Base, pair.Base) && strings.EqualFold(o.Quote, pair.Quote) {
			ordered++
		}
	}
	filled := make(map[string]int, len(store.OutcomeWindows))
	for _, p := range patterns {
		for name := range p.Outcomes {
			filled[name]++
		}
	}
	parts := []string{fmt.Sprintf("orders=%d patterns=%d", ordered, len(patterns))}
	for _, w := range store.OutcomeWindows {
		parts = append(parts, fmt.Sprintf("%s=%d", w.Name, filled[w.Name]))
	}
	return strings.Join(parts, " "), nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
