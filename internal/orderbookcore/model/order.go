// Package model defines the value types that flow through the matching
// core: orders, fills, and the enums that describe their shape.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes limit orders (which carry a price) from
// market orders (which do not).
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce is the set of supported TIF variants. MARKET orders
// always carry TimeInForceIOC.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Status is the terminal or resting state of an order after the engine
// has processed it once.
type Status string

const (
	StatusResting                    Status = "RESTING"
	StatusFullyFilled                Status = "FULLY_FILLED"
	StatusPartiallyFilledAndResting  Status = "PARTIALLY_FILLED_AND_RESTING"
	StatusPartiallyFilledAndCanceled Status = "PARTIALLY_FILLED_AND_CANCELLED"
	StatusCanceledIOC                Status = "CANCELLED_IOC"
	StatusRejectedFOK                Status = "REJECTED_FOK"
	StatusCanceled                   Status = "CANCELLED"
)

// Order is the immutable-after-creation record described in spec §3.
// Only RemainingQty mutates, and only downward, as matching consumes
// it; every other field is fixed at ingest.
type Order struct {
	ID             uint64
	ClientOrderID  string
	Instrument     string
	Side           Side
	Type           OrderType
	TimeInForce    TimeInForce
	Price          decimal.Decimal // zero value for MARKET
	OriginalQty    decimal.Decimal
	RemainingQty   decimal.Decimal
	IngestTS       int64 // monotonic nanoseconds, assigned by the engine
	ClientID       string
}

// Filled reports whether the order has no remaining quantity.
func (o *Order) Filled() bool {
	return o.RemainingQty.LessThanOrEqual(decimal.Zero)
}

// Fill is one match between a taker and a resting maker.
type Fill struct {
	TradeID        uint64
	Instrument     string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	TakerOrderID   uint64
	MakerOrderID   uint64
	TakerSide      Side
	TakerFee       decimal.Decimal
	MakerFee       decimal.Decimal
	EventTimestamp int64
}

// NewTraceID returns a random uuid string for use as a correlation id;
// it is not part of the ordering or matching logic. Nothing in the
// engine, transport, or logs attaches one at present.
func NewTraceID() string {
	return uuid.New().String()
}

// Now is the engine's canonical wall-clock source, used for
// EventTimestamp, publish timestamps, and as the base reading for
// IngestTS. Ordering uses IngestTS, which the engine bumps so it is
// strictly increasing even if this clock stalls or steps back.
func Now() time.Time {
	return time.Now().UTC()
}
