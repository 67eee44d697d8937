package engine

import (
	"fmt"

	"github.com/google/uuid"
)

type Orderbook struct {
	Bids *BookSide
	Asks *BookSide
}

func NewOrderbook(capacity int) *Orderbook {
	ob := &Orderbook{Bids: &BookSide{}, Asks: &BookSide{}}
	ob.Init(capacity)
	return ob
}

// Init empties both sides.
func (ob *Orderbook) Init(capacity int) {
	ob.Bids.Init(SideBid, capacity)
	ob.Asks.Init(SideAsk, capacity)
}

func (ob *Orderbook) Side(s Side) *BookSide {
	if s == SideBid {
		return ob.Bids
	}
	return ob.Asks
}

func (ob *Orderbook) BestBid() (Order, bool) { return ob.Bids.PeekBest() }
func (ob *Orderbook) BestAsk() (Order, bool) { return ob.Asks.PeekBest() }

// ImpactPrice is the price of the last resting order an incoming order of
// qty base lots would reach on side s, ignoring expired orders.
func (ob *Orderbook) ImpactPrice(s Side, qty int64, now uint64) (int64, bool) {
	var sum, price int64
	found := false
	ob.Side(s).Ascend(func(o Order) bool {
		if o.IsExpired(now) {
			return true
		}
		sum += o.Quantity
		if sum >= qty {
			price = o.Price
			found = true
			return false
		}
		return true
	})
	return price, found
}

func (ob *Orderbook) Cancel(s Side, id OrderID) (Order, error) {
	if !s.Valid() {
		return Order{}, fmt.Errorf("side %q: %w", s, ErrInvalidOrder)
	}
	return ob.Side(s).Remove(id)
}

// CancelByClientOrderID looks on both sides for the owner's tagged order.
func (ob *Orderbook) CancelByClientOrderID(owner uuid.UUID, clientID uint64) (Order, error) {
	o, err := ob.Bids.RemoveByClientOrderID(owner, clientID)
	if err == nil {
		return o, nil
	}
	return ob.Asks.RemoveByClientOrderID(owner, clientID)
}

func (ob *Orderbook) Get(id OrderID) (Order, bool) {
	if o, ok := ob.Bids.Get(id); ok {
		return o, true
	}
	return ob.Asks.Get(id)
}

type BookSnapshot struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

func (ob *Orderbook) Snapshot(depth int) BookSnapshot {
	return BookSnapshot{Bids: ob.Bids.Levels(depth), Asks: ob.Asks.Levels(depth)}
}

func (ob *Orderbook) Clone() *Orderbook {
	return &Orderbook{Bids: ob.Bids.Clone(), Asks: ob.Asks.Clone()}
}
