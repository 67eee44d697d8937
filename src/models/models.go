package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perp-market/src/engine"
	"perp-market/src/oracle"
)

// OracleFeedRequest carries one oracle reading. Feed is the raw account
// data, base64 in JSON; Stub and Pyth build a feed from fields instead.
type OracleFeedRequest struct {
	Feed []byte    `json:"feed,omitempty"`
	Stub *StubFeed `json:"stub,omitempty"`
	Pyth *PythFeed `json:"pyth,omitempty"`
}

type StubFeed struct {
	Mantissa int64 `json:"mantissa"`
	Expo     int32 `json:"expo"`
	// LastUpdated defaults to the request time.
	LastUpdated int64 `json:"last_updated,omitempty"`
}

type PythFeed struct {
	Expo        int32  `json:"expo"`
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	PublishTime int64  `json:"publish_time,omitempty"`
	Trading     *bool  `json:"trading,omitempty"`
}

// Bytes encodes the reading. It returns nil when the request holds none.
func (r *OracleFeedRequest) Bytes(now int64) []byte {
	switch {
	case len(r.Feed) > 0:
		return r.Feed
	case r.Stub != nil:
		ts := r.Stub.LastUpdated
		if ts == 0 {
			ts = now
		}
		return oracle.StubFeed{Mantissa: r.Stub.Mantissa, Expo: r.Stub.Expo, LastUpdated: ts}.Encode()
	case r.Pyth != nil:
		ts := r.Pyth.PublishTime
		if ts == 0 {
			ts = now
		}
		status := oracle.PythStatusTrading
		if r.Pyth.Trading != nil && !*r.Pyth.Trading {
			status = 0
		}
		return oracle.PythFeed{
			Expo:        r.Pyth.Expo,
			Price:       r.Pyth.Price,
			Conf:        r.Pyth.Conf,
			PublishTime: ts,
			Status:      status,
		}.Encode()
	}
	return nil
}

type CreateMarketRequest struct {
	Admin      uuid.UUID           `json:"admin"`
	Params     engine.CreateParams `json:"params"`
	OracleFeed OracleFeedRequest   `json:"oracle_feed"`
}

type CreateMarketResponse struct {
	Market engine.PerpMarket    `json:"market"`
	Event  engine.MarketCreated `json:"event"`
}

type PlaceOrderRequest struct {
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Owner         uuid.UUID `json:"owner"`
	Price         int64     `json:"price"` // quote lots per base lot, 0 for MARKET
	Quantity      int64     `json:"quantity"`
	ClientOrderID uint64    `json:"client_order_id,omitempty"`
	TimeInForce   uint16    `json:"time_in_force,omitempty"`
	ReduceOnly    bool      `json:"reduce_only,omitempty"`
	SelfTrade     string    `json:"self_trade,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

func (r *PlaceOrderRequest) NewOrder() engine.NewOrder {
	return engine.NewOrder{
		Side:          engine.Side(r.Side),
		Type:          engine.OrderType(r.Type),
		Owner:         r.Owner,
		Price:         r.Price,
		Quantity:      r.Quantity,
		ClientOrderID: r.ClientOrderID,
		TimeInForce:   r.TimeInForce,
		ReduceOnly:    r.ReduceOnly,
		SelfTrade:     engine.SelfTradeBehavior(r.SelfTrade),
		Limit:         r.Limit,
	}
}

type PlaceOrderResponse struct {
	*engine.MatchResult
	Message string `json:"message,omitempty"`
}

type CancelOrderResponse struct {
	Order  engine.Order `json:"order"`
	Status string       `json:"status"`
}

type OrderBookResponse struct {
	MarketIndex engine.PerpMarketIndex `json:"market_index"`
	Timestamp   int64                  `json:"timestamp"` // unix timestamp in milliseconds
	Bids        []engine.PriceLevel    `json:"bids"`      // sorted descending (highest first)
	Asks        []engine.PriceLevel    `json:"asks"`      // sorted ascending (lowest first)
}

type FundingResponse struct {
	Applied      bool                 `json:"applied"`
	Update       engine.FundingUpdate `json:"update"`
	LongFunding  decimal.Decimal      `json:"long_funding"`
	ShortFunding decimal.Decimal      `json:"short_funding"`
}

type ConsumeEventsRequest struct {
	Limit             int             `json:"limit"`
	OpenInterestDelta int64           `json:"open_interest_delta"`
	SettleFees        decimal.Decimal `json:"settle_fees"`
}

type EventsResponse struct {
	MarketIndex engine.PerpMarketIndex `json:"market_index"`
	Events      []engine.Event         `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Markets       int    `json:"markets"`
	RestingOrders int    `json:"resting_orders"`
	QueuedEvents  int    `json:"queued_events"`
}
