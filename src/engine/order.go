package engine

import (
	"github.com/google/uuid"
)

type (
	PerpMarketIndex uint16
	TokenIndex      uint16
	// OrderID is the market sequence number assigned when the order was placed.
	OrderID uint64
)

type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

type OrderType string

const (
	TypeLimit             OrderType = "LIMIT"
	TypeImmediateOrCancel OrderType = "IOC"
	TypePostOnly          OrderType = "POST_ONLY"
	TypeMarket            OrderType = "MARKET"
)

func (t OrderType) Valid() bool {
	switch t {
	case TypeLimit, TypeImmediateOrCancel, TypePostOnly, TypeMarket:
		return true
	}
	return false
}

// SelfTradeBehavior decides what happens when an incoming order would
// cross a resting order of the same owner.
type SelfTradeBehavior string

const (
	// SelfTradeDecrementAndCancel reduces both orders by the overlap without a fill.
	SelfTradeDecrementAndCancel SelfTradeBehavior = "DECREMENT_AND_CANCEL"
	// SelfTradeCancelResting removes the resting order and keeps matching.
	SelfTradeCancelResting SelfTradeBehavior = "CANCEL_RESTING"
	// SelfTradeCancelIncoming stops matching and drops the rest of the incoming order.
	SelfTradeCancelIncoming SelfTradeBehavior = "CANCEL_INCOMING"
)

func (b SelfTradeBehavior) Valid() bool {
	switch b {
	case SelfTradeDecrementAndCancel, SelfTradeCancelResting, SelfTradeCancelIncoming:
		return true
	}
	return false
}

type OrderStatus string

const (
	StatusAccepted    OrderStatus = "ACCEPTED"
	StatusPartialFill OrderStatus = "PARTIAL_FILL"
	StatusFilled      OrderStatus = "FILLED"
	StatusCancelled   OrderStatus = "CANCELLED"
	StatusRejected    OrderStatus = "REJECTED"
)

// Order is a resting order. Price is in quote lots per base lot and
// Quantity is the remaining size in base lots.
type Order struct {
	ID            OrderID   `json:"id"`
	Side          Side      `json:"side"`
	Owner         uuid.UUID `json:"owner"`
	Price         int64     `json:"price"`
	Quantity      int64     `json:"quantity"`
	ClientOrderID uint64    `json:"client_order_id"`
	Timestamp     uint64    `json:"timestamp"`
	// TimeInForce is a lifetime in seconds; 0 never expires.
	TimeInForce uint16 `json:"time_in_force"`
	PostOnly    bool   `json:"post_only"`
	ReduceOnly  bool   `json:"reduce_only"`
}

func (o *Order) IsExpired(now uint64) bool {
	return o.TimeInForce > 0 && now >= o.Timestamp+uint64(o.TimeInForce)
}

// NewOrder is an order entering the book.
type NewOrder struct {
	Side          Side
	Type          OrderType
	Owner         uuid.UUID
	Price         int64
	Quantity      int64
	ClientOrderID uint64
	TimeInForce   uint16
	ReduceOnly    bool
	SelfTrade     SelfTradeBehavior
	// Limit caps the number of resting orders visited while matching; 0 means DefaultMatchLimit.
	Limit int
}

// limitPrice is the worst price the order accepts. Market orders take any price.
func (o *NewOrder) limitPrice() int64 {
	if o.Type != TypeMarket {
		return o.Price
	}
	if o.Side == SideBid {
		return maxPrice
	}
	return 1
}

func (o *NewOrder) crosses(restingPrice int64) bool {
	if o.Side == SideBid {
		return restingPrice <= o.limitPrice()
	}
	return restingPrice >= o.limitPrice()
}
