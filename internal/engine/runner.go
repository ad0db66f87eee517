package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"pattern-trader/internal/config"
	"pattern-trader/internal/exchange"
	"pattern-trader/internal/metrics"
	"pattern-trader/internal/signal"
	"pattern-trader/internal/store"
)

// StatusWriter persists the runtime status file.
type StatusWriter interface {
	SaveRuntimeStatus(status store.RuntimeStatus) error
}

// Loader returns the configuration for the next cycle.
type Loader func() (config.Config, error)

// persisted states are written to the status file; per-pair states are only
// logged.
var persisted = map[State]bool{
	StateConfiguring:     true,
	StatePerPairAnalysis: true,
	StateNotifying:       true,
	StateSleeping:        true,
	StateTerminated:      true,
}

type Runner struct {
	Exchange   exchange.Exchange
	Journal    Journal
	Aggregator *signal.Aggregator
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Status     StatusWriter
	Load       Loader
	Logger     *zap.Logger
	Mode       string
	InstanceID string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	state     State
	cycle     int64
	startedAt time.Time
	last      Outcome
	lastErr   error
	next      time.Time
}

// Run loads the configuration and runs cycles until the context ends or, in
// single-shot mode, until one cycle completes. A fatal single-shot cycle is
// retried with backoff up to retry.max_attempts; its error is returned when
// the attempts run out. In continuous mode cycle failures never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.Load == nil {
		return errors.New("engine: config loader required")
	}
	r.startedAt = r.now()
	log := r.logger()
	var (
		cfg      config.Config
		loaded   bool
		attempts int
	)
	b := &backoff.Backoff{Factor: 2}
	defer r.setState(StateTerminated)

	for {
		r.setState(StateConfiguring)
		next, err := r.Load()
		switch {
		case err != nil && !loaded:
			return fmt.Errorf("load config: %w", err)
		case err != nil:
			log.Warn("config_reload_failed", zap.Error(err))
		default:
			cfg, loaded = next, true
		}
		b.Min = time.Duration(cfg.Retry.MinBackoffSec) * time.Second
		b.Max = time.Duration(cfg.Retry.MaxBackoffSec) * time.Second

		r.cycle++
		res := r.safeCycle(ctx, cfg)
		r.finishCycle(cfg, res)
		if ctx.Err() != nil {
			log.Info("runner_stopped", zap.String("reason", ctx.Err().Error()))
			return nil
		}

		if !cfg.Continuous {
			if res.Outcome != OutcomeFatal {
				return nil
			}
			attempts++
			if attempts >= cfg.Retry.MaxAttempts {
				return fmt.Errorf("cycle failed after %d attempts: %w", attempts, res.Err)
			}
			wait := b.Duration()
			log.Warn("cycle_retry", zap.Int("attempt", attempts), zap.Duration("wait", wait))
			if err := r.sleep(ctx, wait); err != nil {
				return nil
			}
			continue
		}

		wait := time.Duration(cfg.SleepSec) * time.Second
		if res.Outcome == OutcomeFatal {
			if d := b.Duration(); d < wait {
				wait = d
			}
		} else {
			b.Reset()
		}
		r.next = r.now().Add(wait)
		r.setState(StateSleeping)
		log.Info("sleeping", zap.Duration("wait", wait), zap.Time("next_cycle_at", r.next))
		if err := r.sleep(ctx, wait); err != nil {
			log.Info("runner_stopped", zap.String("reason", err.Error()))
			return nil
		}
		r.next = time.Time{}
	}
}

func (r *Runner) safeCycle(ctx context.Context, cfg config.Config) (res CycleResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger().Error("cycle_panic", zap.Any("panic", p), zap.Stack("stack"))
			res = CycleResult{Outcome: OutcomeFatal, Pairs: res.Pairs, Err: fmt.Errorf("cycle panic: %v", p)}
		}
	}()
	return r.RunCycle(ctx, cfg)
}

func (r *Runner) finishCycle(cfg config.Config, res CycleResult) {
	r.last, r.lastErr = res.Outcome, res.Err
	now := r.now()
	r.Metrics.CycleFinished(string(res.Outcome), float64(now.Unix()))

	counts := make(map[PairOutcome]int)
	for _, p := range res.Pairs {
		counts[p.Outcome]++
	}
	fields := []zap.Field{
		zap.Int64("cycle", r.cycle),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("pairs", len(res.Pairs)),
		zap.Int("ordered", counts[PairOrdered]),
		zap.Int("refused", counts[PairRefused]),
		zap.Int("failed", counts[PairFailed]),
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}
	if res.Outcome == OutcomeSuccess {
		r.logger().Info("cycle_finished", fields...)
	} else {
		r.logger().Warn("cycle_finished", fields...)
	}

	if r.Notifier == nil {
		return
	}
	if res.Outcome == OutcomeFatal {
		err := res.Err
		if err == nil {
			err = errors.New("every pair failed")
		}
		r.Notifier.Error("cycle_failed", err, map[string]string{
			"cycle":      fmt.Sprint(r.cycle),
			"continuous": fmt.Sprint(cfg.Continuous),
		})
		return
	}
	for _, p := range res.Pairs {
		if p.Outcome == PairFailed || (p.Outcome == PairOrdered && p.Err != nil) {
			r.Notifier.Error("pair_failed", p.Err, map[string]string{"pair": p.Pair})
		}
	}
}

func (r *Runner) setState(s State) {
	if r.state == s {
		return
	}
	r.logger().Debug("state_transition", zap.String("from", string(r.state)), zap.String("to", string(s)))
	r.state = s
	if persisted[s] {
		r.persistStatus()
	}
}

func (r *Runner) persistStatus() {
	if r.Status == nil {
		return
	}
	mode := r.Mode
	if mode == "" {
		mode = string(config.ModeTestnet)
	}
	instanceID := r.InstanceID
	if instanceID == "" {
		instanceID = "default"
	}
	status := store.RuntimeStatus{
		Mode:        mode,
		InstanceID:  instanceID,
		PID:         os.Getpid(),
		State:       string(r.state),
		Cycle:       r.cycle,
		StartedAt:   r.startedAt,
		UpdatedAt:   r.now(),
		LastOutcome: string(r.last),
		NextCycleAt: r.next,
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	if err := r.Status.SaveRuntimeStatus(status); err != nil {
		r.logger().Warn("runtime_status_write_failed", zap.Error(err))
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) aggregator() *signal.Aggregator {
	if r.Aggregator == nil {
		r.Aggregator = signal.NewAggregator(nil)
	}
	return r.Aggregator
}
