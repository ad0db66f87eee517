package binance

import (
	"fmt"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"pattern-trader/internal/core"
)

// APIError is an error answer from the exchange, REST or WebSocket.
type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return "binance api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

// wire shape of WebSocket API errors
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseRules(src gobinance.Symbol) core.Rules {
	rules := core.Rules{
		Symbol:         src.Symbol,
		Status:         src.Status,
		BaseAsset:      src.BaseAsset,
		QuoteAsset:     src.QuoteAsset,
		BasePrecision:  src.BaseAssetPrecision,
		QuotePrecision: src.QuotePrecision,
	}
	for _, f := range src.Filters {
		switch filterString(f, "filterType") {
		case core.FilterPrice:
			minPrice, okMin := filterDecimal(f, "minPrice")
			tick, okTick := filterDecimal(f, "tickSize")
			if okMin || okTick {
				rules.Price = &core.PriceFilter{MinPrice: minPrice, TickSize: tick}
			}
		case core.FilterLotSize:
			minQty, okMin := filterDecimal(f, "minQty")
			step, okStep := filterDecimal(f, "stepSize")
			if okMin || okStep {
				rules.Lot = &core.LotSize{MinQty: minQty, StepSize: step}
			}
		case core.FilterMinNotional, core.FilterNotional:
			v, ok := filterDecimal(f, "minNotional")
			if !ok {
				continue
			}
			// Both may be present; the stricter minimum wins.
			if rules.MinNotional == nil || v.GreaterThan(*rules.MinNotional) {
				rules.MinNotional = &v
			}
		}
	}
	return rules
}

func filterString(f map[string]interface{}, key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func filterDecimal(f map[string]interface{}, key string) (decimal.Decimal, bool) {
	raw := filterString(f, key)
	if raw == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func toOrder(src *gobinance.Order) core.Order {
	price, _ := decimal.NewFromString(src.Price)
	qty, _ := decimal.NewFromString(src.OrigQuantity)
	executed, _ := decimal.NewFromString(src.ExecutedQuantity)
	order := core.Order{
		ID:          strconv.FormatInt(src.OrderID, 10),
		ClientID:    src.ClientOrderID,
		Symbol:      src.Symbol,
		Side:        core.Side(src.Side),
		Type:        core.OrderType(src.Type),
		Price:       price,
		Qty:         qty,
		ExecutedQty: executed,
		Status:      core.OrderStatus(src.Status),
	}
	if src.Time > 0 {
		order.CreatedAt = time.UnixMilli(src.Time)
	}
	return order
}

func toCandle(src *gobinance.Kline) (core.Candle, error) {
	var (
		c   core.Candle
		err error
	)
	c.OpenTime = time.UnixMilli(src.OpenTime)
	for _, field := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&c.Open, src.Open},
		{&c.High, src.High},
		{&c.Low, src.Low},
		{&c.Close, src.Close},
		{&c.Volume, src.Volume},
	} {
		if *field.dst, err = decimal.NewFromString(field.raw); err != nil {
			return core.Candle{}, fmt.Errorf("kline %d: %w", src.OpenTime, err)
		}
	}
	return c, nil
}
