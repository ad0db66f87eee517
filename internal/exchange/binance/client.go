package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pattern-trader/internal/alert"
	"pattern-trader/internal/config"
	"pattern-trader/internal/core"
)

const (
	defaultClientOrderPrefix = "pt"
	allOrdersLimit           = 1000
)

type Client struct {
	rest              *gobinance.Client
	apiKey            string
	apiSecret         string
	wsBaseURL         string
	clientOrderPrefix string
	recvWindow        time.Duration
	logger            *zap.Logger

	orderMu       sync.Mutex
	orderConn     *websocket.Conn
	orderConnUsed time.Time

	mu         sync.Mutex
	alerter    alert.Alerter
	wsDegraded bool
}

type Options struct {
	APIKey            string
	APISecret         string
	RestBaseURL       string
	WSBaseURL         string
	ClientOrderPrefix string
	RecvWindowMs      int64
	HTTPTimeoutSec    int64
}

func NewClient(cfg config.ExchangeConfig) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	return NewClientWithOptions(Options{
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		RestBaseURL:    cfg.RestBaseURL,
		WSBaseURL:      cfg.WSBaseURL,
		RecvWindowMs:   cfg.RecvWindowMs,
		HTTPTimeoutSec: cfg.HTTPTimeoutSec,
	}), nil
}

func NewClientWithOptions(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	rest := gobinance.NewClient(opts.APIKey, opts.APISecret)
	if opts.RestBaseURL != "" {
		rest.BaseURL = strings.TrimRight(opts.RestBaseURL, "/")
	}
	rest.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{
		rest:              rest,
		apiKey:            opts.APIKey,
		apiSecret:         opts.APISecret,
		wsBaseURL:         strings.TrimRight(opts.WSBaseURL, "/"),
		clientOrderPrefix: normalizeClientOrderPrefix(opts.ClientOrderPrefix),
		recvWindow:        time.Duration(opts.RecvWindowMs) * time.Millisecond,
		logger:            zap.NewNop(),
	}
}

func (c *Client) SetAlerter(alerter alert.Alerter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerter = alerter
}

func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger.Named("binance")
}

func (c *Client) alertImportant(event string, fields map[string]string) {
	c.mu.Lock()
	alerter := c.alerter
	c.mu.Unlock()
	if alerter == nil {
		return
	}
	alerter.Important(event, fields)
}

func (c *Client) markWSDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsDegraded {
		return false
	}
	c.wsDegraded = true
	return true
}

func (c *Client) clearWSDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.wsDegraded {
		return false
	}
	c.wsDegraded = false
	return true
}

func (c *Client) Name() string { return "binance" }

func (c *Client) Close() error {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()
	c.resetOrderConn()
	return nil
}

func (c *Client) opts() []gobinance.RequestOption {
	if c.recvWindow <= 0 {
		return nil
	}
	return []gobinance.RequestOption{gobinance.WithRecvWindow(c.recvWindow.Milliseconds())}
}

func (c *Client) Balances(ctx context.Context, assets ...string) (core.Balances, error) {
	account, err := c.rest.NewGetAccountService().Do(ctx, c.opts()...)
	if err != nil {
		return nil, translateError(err)
	}
	want := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		want[strings.ToUpper(a)] = struct{}{}
	}
	out := make(core.Balances, len(assets))
	for _, a := range assets {
		out[strings.ToUpper(a)] = decimal.Zero
	}
	for _, b := range account.Balances {
		if len(want) > 0 {
			if _, ok := want[b.Asset]; !ok {
				continue
			}
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", b.Asset, err)
		}
		out[b.Asset] = free
	}
	return out, nil
}

func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	svc := c.rest.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := toCandle(k)
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	if err := core.CheckCandleOrder(out); err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}
	return out, nil
}

// Rules fetches exchange info for one symbol on every call.
func (c *Client) Rules(ctx context.Context, symbol string) (core.Rules, error) {
	if symbol == "" {
		return core.Rules{}, errors.New("symbol is required")
	}
	info, err := c.rest.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return core.Rules{}, translateError(err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return parseRules(s), nil
		}
	}
	return core.Rules{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	orders, err := c.rest.NewListOpenOrdersService().Symbol(symbol).Do(ctx, c.opts()...)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]core.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrder(o))
	}
	return out, nil
}

// AllOrders fetches the most recent order history and filters it by
// creation time locally; the exchange caps explicit time ranges at one day.
func (c *Client) AllOrders(ctx context.Context, symbol string, since time.Time) ([]core.Order, error) {
	orders, err := c.rest.NewListOrdersService().Symbol(symbol).Limit(allOrdersLimit).Do(ctx, c.opts()...)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]core.Order, 0, len(orders))
	for _, o := range orders {
		order := toOrder(o)
		if !since.IsZero() && order.CreatedAt.Before(since) {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, err)
	}
	_, err = c.rest.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx, c.opts()...)
	return translateError(err)
}

func (c *Client) orderByClientID(ctx context.Context, symbol, clientID string) (core.Order, error) {
	order, err := c.rest.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientID).Do(ctx, c.opts()...)
	if err != nil {
		return core.Order{}, translateError(err)
	}
	return toOrder(order), nil
}

func normalizeClientOrderPrefix(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	b := strings.Builder{}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return defaultClientOrderPrefix
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// newClientOrderID fits the exchange's 36 character limit: a short prefix,
// a dash and a dashless UUID.
func newClientOrderID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
