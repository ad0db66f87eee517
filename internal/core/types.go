package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side an order on s would close against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

const (
	Limit OrderType = "LIMIT"
)

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Executed reports whether any quantity of the order traded.
func (s OrderStatus) Executed() bool {
	return s == OrderFilled || s == OrderPartiallyFilled
}

// StatusTrading is the exchange symbol status that accepts new orders.
const StatusTrading = "TRADING"

type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// ErrCandleOrder means a candle window is not in strictly increasing
// open-time order.
var ErrCandleOrder = errors.New("candles out of order")

// CheckCandleOrder reports the first candle whose open time does not follow
// its predecessor.
func CheckCandleOrder(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return fmt.Errorf("%w: candle %d opens at %s, previous at %s", ErrCandleOrder, i,
				candles[i].OpenTime.UTC().Format(time.RFC3339), candles[i-1].OpenTime.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

type Order struct {
	ID          string
	ClientID    string
	Symbol      string
	Side        Side
	Type        OrderType
	Price       decimal.Decimal
	Qty         decimal.Decimal
	ExecutedQty decimal.Decimal
	Status      OrderStatus
	CreatedAt   time.Time
}

// OrderIntent is a normalized, exchange-compliant limit order about to be submitted.
type OrderIntent struct {
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	Price  decimal.Decimal
}

func (o OrderIntent) Notional() decimal.Decimal {
	return o.Qty.Mul(o.Price)
}

// OrderRecord is an accepted order as kept in the order log.
type OrderRecord struct {
	Time         time.Time       `json:"time"`
	OrderID      string          `json:"order_id"`
	Side         Side            `json:"side"`
	Base         string          `json:"base"`
	Quote        string          `json:"quote"`
	Qty          decimal.Decimal `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	BaseBalance  decimal.Decimal `json:"base_balance"`
	QuoteBalance decimal.Decimal `json:"quote_balance"`
}

type PatternMatch struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type PriceFilter struct {
	MinPrice decimal.Decimal
	TickSize decimal.Decimal
}

type LotSize struct {
	MinQty   decimal.Decimal
	StepSize decimal.Decimal
}

// Rules is the exchange filter set for one traded symbol. Nil filters were
// absent from the exchange response.
type Rules struct {
	Symbol         string
	Status         string
	BaseAsset      string
	QuoteAsset     string
	BasePrecision  int
	QuotePrecision int
	Price          *PriceFilter
	Lot            *LotSize
	MinNotional    *decimal.Decimal
}

func (r Rules) Trading() bool {
	return strings.EqualFold(r.Status, StatusTrading)
}

func (r Rules) BaseContext() Precision {
	return NewPrecision(r.BasePrecision)
}

// Balances maps an asset to its free quantity. Missing assets are zero.
type Balances map[string]decimal.Decimal

func (b Balances) Free(asset string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	v, ok := b[asset]
	if !ok {
		return decimal.Zero
	}
	return v
}
