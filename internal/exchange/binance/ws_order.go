package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pattern-trader/internal/core"
)

// A cycle runs every few minutes; an order connection idle longer than this
// is redialed rather than trusted.
const orderConnIdle = time.Minute

type wsOrderResult struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	TransactTime  int64  `json:"transactTime"`
}

// PlaceOrder submits a GTC limit order over the WebSocket API and falls back
// to REST when the socket is unavailable. An error answered by the exchange
// is returned as is and never resubmitted.
func (c *Client) PlaceOrder(ctx context.Context, intent core.OrderIntent) (core.Order, error) {
	order := core.Order{
		ClientID:  newClientOrderID(c.clientOrderPrefix),
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Type:      core.Limit,
		Price:     intent.Price,
		Qty:       intent.Qty,
		Status:    core.OrderNew,
		CreatedAt: time.Now(),
	}
	if !order.Qty.IsPositive() || !order.Price.IsPositive() {
		return core.Order{}, core.ErrInvalidOrder
	}

	if c.wsBaseURL != "" {
		placed, err := c.placeOrderWS(ctx, order)
		if err == nil {
			if c.clearWSDegraded() {
				c.alertImportant("ws_order_recovered", map[string]string{"symbol": order.Symbol})
			}
			return placed, nil
		}
		if _, answered := AsAPIError(err); answered {
			return core.Order{}, err
		}
		c.logger.Warn("ws_order_fallback_to_rest", zap.String("symbol", order.Symbol), zap.Error(err))
		if c.markWSDegraded() {
			c.alertImportant("ws_order_fallback_to_rest", map[string]string{
				"symbol":    order.Symbol,
				"side":      string(order.Side),
				"price":     order.Price.String(),
				"qty":       order.Qty.String(),
				"client_id": order.ClientID,
				"ws_error":  err.Error(),
			})
		}
	}
	return c.placeOrderREST(ctx, order)
}

func (c *Client) placeOrderWS(ctx context.Context, order core.Order) (core.Order, error) {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	conn, err := c.ensureOrderConn(ctx)
	if err != nil {
		return core.Order{}, err
	}
	resp, err := sendWSRequest(ctx, conn, "order.place", c.wsOrderParams(order))
	if err != nil {
		if _, answered := AsAPIError(err); !answered {
			c.resetOrderConn()
		}
		return core.Order{}, err
	}
	c.orderConnUsed = time.Now()

	var result wsOrderResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return core.Order{}, err
	}
	order.ID = strconv.FormatInt(result.OrderID, 10)
	if result.Status != "" {
		order.Status = core.OrderStatus(result.Status)
	}
	if result.TransactTime > 0 {
		order.CreatedAt = time.UnixMilli(result.TransactTime)
	}
	return order, nil
}

// wsOrderParams builds HMAC-signed order.place parameters. The signature
// covers the parameters sorted by key, which url.Values.Encode provides.
func (c *Client) wsOrderParams(order core.Order) map[string]interface{} {
	ts := time.Now().UnixMilli()
	values := url.Values{}
	values.Set("apiKey", c.apiKey)
	values.Set("symbol", order.Symbol)
	values.Set("side", string(order.Side))
	values.Set("type", string(core.Limit))
	values.Set("timeInForce", string(gobinance.TimeInForceTypeGTC))
	values.Set("quantity", order.Qty.String())
	values.Set("price", order.Price.String())
	values.Set("newClientOrderId", order.ClientID)
	values.Set("timestamp", strconv.FormatInt(ts, 10))
	if c.recvWindow > 0 {
		values.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}

	params := make(map[string]interface{}, len(values)+1)
	for k := range values {
		params[k] = values.Get(k)
	}
	params["timestamp"] = ts
	if c.recvWindow > 0 {
		params["recvWindow"] = c.recvWindow.Milliseconds()
	}
	params["signature"] = sign(c.apiSecret, values.Encode())
	return params
}

func (c *Client) placeOrderREST(ctx context.Context, order core.Order) (core.Order, error) {
	resp, err := c.rest.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(gobinance.SideType(order.Side)).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Quantity(order.Qty.String()).
		Price(order.Price.String()).
		NewClientOrderID(order.ClientID).
		Do(ctx, c.opts()...)
	if err != nil {
		err = translateError(err)
		// A lost response followed by a retry shows up as a duplicate.
		if errors.Is(err, core.ErrDuplicateOrder) {
			if existing, lookupErr := c.orderByClientID(ctx, order.Symbol, order.ClientID); lookupErr == nil {
				return existing, nil
			}
		}
		// Rejections are reported by the caller; they never raise an alert.
		if apiErr, ok := AsAPIError(err); ok {
			c.logger.Warn("rest_order_failed",
				zap.String("symbol", order.Symbol),
				zap.String("side", string(order.Side)),
				zap.String("client_id", order.ClientID),
				zap.Int("error_code", apiErr.Code),
				zap.String("error_msg", apiErr.Msg),
			)
		}
		return core.Order{}, err
	}
	order.ID = strconv.FormatInt(resp.OrderID, 10)
	if resp.Status != "" {
		order.Status = core.OrderStatus(resp.Status)
	}
	if resp.TransactTime > 0 {
		order.CreatedAt = time.UnixMilli(resp.TransactTime)
	}
	return order, nil
}

func (c *Client) ensureOrderConn(ctx context.Context) (*websocket.Conn, error) {
	if c.orderConn != nil && time.Since(c.orderConnUsed) < orderConnIdle {
		return c.orderConn, nil
	}
	c.resetOrderConn()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsBaseURL, nil)
	if err != nil {
		return nil, err
	}
	c.orderConn = conn
	c.orderConnUsed = time.Now()
	return conn, nil
}

func (c *Client) resetOrderConn() {
	if c.orderConn == nil {
		return
	}
	_ = c.orderConn.Close()
	c.orderConn = nil
}
