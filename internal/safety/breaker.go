package safety

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"pattern-trader/internal/alert"
	"pattern-trader/internal/config"
	"pattern-trader/internal/core"
	"pattern-trader/internal/exchange"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type Action string

const (
	ActionPlace  Action = "place_order"
	ActionCancel Action = "cancel_order"
)

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const defaultCooldown = 5 * time.Minute

type circuit struct {
	maxFailures int
	failures    int
	state       circuitState
	openedAt    time.Time
	openErr     error
}

// Breaker opens a per-action circuit after consecutive failures. An open
// circuit refuses calls until the cooldown has passed, then lets a single
// probe through; the probe's outcome closes or reopens it.
type Breaker struct {
	enabled  bool
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	circuits map[Action]*circuit
	alerter  alert.Alerter
}

func NewBreaker(enabled bool, maxPlaceFailures, maxCancelFailures int, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		enabled:  enabled,
		cooldown: cooldown,
		logger:   zap.NewNop(),
		now:      time.Now,
		circuits: map[Action]*circuit{
			ActionPlace:  {maxFailures: maxPlaceFailures, state: circuitClosed},
			ActionCancel: {maxFailures: maxCancelFailures, state: circuitClosed},
		},
	}
}

func NewBreakerFromConfig(cfg config.CircuitBreakerConfig) *Breaker {
	return NewBreaker(cfg.Enabled, cfg.MaxPlaceFailures, cfg.MaxCancelFailures, time.Duration(cfg.CooldownSec)*time.Second)
}

func (b *Breaker) SetLogger(logger *zap.Logger) {
	if b == nil || logger == nil {
		return
	}
	b.logger = logger.Named("breaker")
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

// Allow reports ErrCircuitOpen while the action's circuit is cooling down.
// Once the cooldown has passed the circuit turns half-open and the call is
// allowed as a probe.
func (b *Breaker) Allow(action Action) error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	c := b.circuits[action]
	if c == nil || c.state != circuitOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(c.openedAt) < b.cooldown {
		err := c.openErr
		b.mu.Unlock()
		return err
	}
	c.state = circuitHalfOpen
	c.openErr = nil
	alerter := b.alerter
	b.mu.Unlock()

	b.logger.Info("circuit_breaker_half_open", zap.String("action", string(action)), zap.Duration("cooldown", b.cooldown))
	if alerter != nil {
		alerter.Important("circuit_breaker_half_open", map[string]string{
			"action":       string(action),
			"cooldown_sec": strconv.FormatInt(int64(b.cooldown/time.Second), 10),
		})
	}
	return nil
}

// CooldownRemaining is zero unless the action's circuit is open.
func (b *Breaker) CooldownRemaining(action Action) time.Duration {
	if b == nil || !b.enabled {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuits[action]
	if c == nil || c.state != circuitOpen {
		return 0
	}
	if remaining := b.cooldown - b.now().Sub(c.openedAt); remaining > 0 {
		return remaining
	}
	return 0
}

// Record feeds the outcome of a call. It returns the open-circuit error when
// this failure trips the circuit.
func (b *Breaker) Record(action Action, err error) error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	c := b.circuits[action]
	if c == nil || c.maxFailures < 1 {
		b.mu.Unlock()
		return nil
	}
	alerter := b.alerter

	if err == nil {
		prevFailures, prevState := c.failures, c.state
		recovered := c.failures > 0 || c.state == circuitHalfOpen
		if c.state != circuitOpen {
			c.state = circuitClosed
			c.failures = 0
			c.openErr = nil
		} else {
			recovered = false
		}
		b.mu.Unlock()
		if recovered {
			b.logger.Info("circuit_breaker_recovered",
				zap.String("action", string(action)),
				zap.Int("previous_consecutive_failures", prevFailures),
				zap.String("from_state", string(prevState)),
			)
			if alerter != nil && prevState == circuitHalfOpen {
				alerter.Important("circuit_breaker_recovered", map[string]string{
					"action":                        string(action),
					"previous_consecutive_failures": strconv.Itoa(prevFailures),
				})
			}
		}
		return nil
	}

	if c.state == circuitOpen {
		openErr := c.openErr
		b.mu.Unlock()
		return openErr
	}

	reason := "consecutive_failures"
	if c.state == circuitHalfOpen {
		reason = "half_open_probe_failed"
	} else {
		c.failures++
		if c.failures < c.maxFailures {
			failures, limit := c.failures, c.maxFailures
			b.mu.Unlock()
			if failures == limit-1 {
				b.logger.Warn("circuit_breaker_near_trip",
					zap.String("action", string(action)),
					zap.Int("consecutive_failures", failures),
					zap.Int("threshold", limit),
					zap.Error(err),
				)
			}
			return nil
		}
	}

	c.state = circuitOpen
	c.openedAt = b.now()
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, reason=%s, last error: %v", ErrCircuitOpen, action, c.failures, reason, err)
	openErr, failures, limit := c.openErr, c.failures, c.maxFailures
	b.mu.Unlock()

	b.logger.Error("circuit_breaker_trip",
		zap.String("action", string(action)),
		zap.String("reason", reason),
		zap.Int("consecutive_failures", failures),
		zap.Int("threshold", limit),
		zap.Duration("cooldown", b.cooldown),
		zap.Error(err),
	)
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"action":               string(action),
			"reason":               reason,
			"consecutive_failures": strconv.Itoa(failures),
			"threshold":            strconv.Itoa(limit),
			"last_error":           err.Error(),
		})
	}
	return openErr
}

// countsAsFailure separates a broken path to the exchange from a definite
// answer about one order. Rejections say nothing about the exchange's health.
func countsAsFailure(action Action, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, core.ErrInvalidOrder),
		errors.Is(err, core.ErrOrderRejected),
		errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrDuplicateOrder):
		return false
	case action == ActionCancel && (errors.Is(err, core.ErrOrderNotFound) || errors.Is(err, core.ErrOrderExpired)):
		return false
	}
	return true
}

// GuardedExchange routes order placement and cancellation through a Breaker.
// Reads pass straight to the wrapped exchange.
type GuardedExchange struct {
	exchange.Exchange
	breaker *Breaker
}

func NewGuardedExchange(inner exchange.Exchange, breaker *Breaker) *GuardedExchange {
	return &GuardedExchange{Exchange: inner, breaker: breaker}
}

func (e *GuardedExchange) PlaceOrder(ctx context.Context, intent core.OrderIntent) (core.Order, error) {
	if err := e.breaker.Allow(ActionPlace); err != nil {
		return core.Order{}, err
	}
	placed, err := e.Exchange.PlaceOrder(ctx, intent)
	return placed, e.record(ActionPlace, err)
}

func (e *GuardedExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := e.breaker.Allow(ActionCancel); err != nil {
		return err
	}
	return e.record(ActionCancel, e.Exchange.CancelOrder(ctx, symbol, orderID))
}

func (e *GuardedExchange) record(action Action, err error) error {
	var outcome error
	if countsAsFailure(action, err) {
		outcome = err
	}
	if trip := e.breaker.Record(action, outcome); trip != nil {
		return errors.Join(err, trip)
	}
	return err
}
