package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultMatchLimit bounds how many resting orders one incoming order may visit.
const DefaultMatchLimit = 64

type MatchResult struct {
	OrderID        OrderID     `json:"order_id"`
	Status         OrderStatus `json:"status"`
	FilledQuantity int64       `json:"filled_quantity"`
	// RemainingQuantity was not filled; PostedQuantity of it rests on the book.
	RemainingQuantity int64           `json:"remaining_quantity"`
	PostedQuantity    int64           `json:"posted_quantity"`
	Fills             []Event         `json:"fills"`
	TakerFees         decimal.Decimal `json:"taker_fees"`
}

func validateNewOrder(o *NewOrder, pm *PerpMarket) error {
	if o.SelfTrade == "" {
		o.SelfTrade = SelfTradeDecrementAndCancel
	}
	if o.Type == "" {
		o.Type = TypeLimit
	}
	switch {
	case !o.Side.Valid():
		return fmt.Errorf("side %q: %w", o.Side, ErrInvalidOrder)
	case !o.Type.Valid():
		return fmt.Errorf("type %q: %w", o.Type, ErrInvalidOrder)
	case !o.SelfTrade.Valid():
		return fmt.Errorf("self trade behavior %q: %w", o.SelfTrade, ErrInvalidOrder)
	case o.Quantity <= 0:
		return fmt.Errorf("quantity %d: %w", o.Quantity, ErrInvalidOrder)
	case o.Type != TypeMarket && o.Price <= 0:
		return fmt.Errorf("price %d: %w", o.Price, ErrInvalidOrder)
	case pm.ReduceOnly && !o.ReduceOnly:
		return fmt.Errorf("market %d accepts reduce-only orders only: %w", pm.PerpMarketIndex, ErrInvalidOrder)
	}
	return nil
}

// Match crosses an incoming order against the opposite side, best price
// first and earliest insertion first at equal price. Every fill executes at
// the resting order's price and is pushed to q. Whatever is left rests on
// the book for limit and post-only orders and is dropped otherwise.
//
// Match mutates pm, ob and q in place and may fail part way; callers stage
// all three and discard them on error.
func (ob *Orderbook) Match(pm *PerpMarket, q *EventQueue, order NewOrder, now uint64) (*MatchResult, error) {
	if err := validateNewOrder(&order, pm); err != nil {
		return nil, err
	}

	opposing := ob.Side(order.Side.Opposite())

	// post-only rejection must leave the market untouched, so it is
	// decided before an id is taken or expired orders are swept
	if order.Type == TypePostOnly {
		if best, ok := opposing.bestLive(now); ok && order.crosses(best.Price) {
			return &MatchResult{
				Status:            StatusRejected,
				RemainingQuantity: order.Quantity,
				TakerFees:         decimal.Zero,
			}, nil
		}
	}

	id := pm.nextSeqNum()
	result := &MatchResult{OrderID: id, TakerFees: decimal.Zero}

	limit := order.Limit
	if limit <= 0 {
		limit = DefaultMatchLimit
	}

	remaining := order.Quantity
	var filled int64
	var visited int
	stopped := false

loop:
	for remaining > 0 {
		best, ok := opposing.PeekBest()
		if !ok {
			break
		}
		if visited >= limit {
			// never leave a crossed book behind
			stopped = order.crosses(best.Price)
			break
		}
		visited++

		if best.IsExpired(now) {
			if _, err := opposing.Remove(best.ID); err != nil {
				return nil, err
			}
			if _, err := q.Push(newOutEvent(best, best.Quantity, now)); err != nil {
				return nil, err
			}
			continue
		}

		if !order.crosses(best.Price) {
			break
		}

		qty := min(remaining, best.Quantity)

		if best.Owner == order.Owner {
			switch order.SelfTrade {
			case SelfTradeCancelResting:
				if _, err := opposing.Remove(best.ID); err != nil {
					return nil, err
				}
				if _, err := q.Push(newOutEvent(best, best.Quantity, now)); err != nil {
					return nil, err
				}
				continue loop
			case SelfTradeCancelIncoming:
				stopped = true
				break loop
			case SelfTradeDecrementAndCancel:
				if _, err := opposing.reduce(best.ID, qty); err != nil {
					return nil, err
				}
				if _, err := q.Push(newOutEvent(best, qty, now)); err != nil {
					return nil, err
				}
				remaining -= qty
				continue loop
			}
		}

		ev := newFillEvent(&order, id, best, qty, pm, now)
		seq, err := q.Push(ev)
		if err != nil {
			return nil, err
		}
		ev.SeqNum = seq
		if _, err := opposing.reduce(best.ID, qty); err != nil {
			return nil, err
		}
		result.TakerFees = result.TakerFees.Add(pm.accrueTakerFee(best.Price, qty))
		result.Fills = append(result.Fills, ev)
		remaining -= qty
		filled += qty
	}

	var posted int64
	canPost := order.Type == TypeLimit || order.Type == TypePostOnly
	if remaining > 0 && canPost && !stopped {
		err := ob.Side(order.Side).Insert(Order{
			ID:            id,
			Side:          order.Side,
			Owner:         order.Owner,
			Price:         order.Price,
			Quantity:      remaining,
			ClientOrderID: order.ClientOrderID,
			Timestamp:     now,
			TimeInForce:   order.TimeInForce,
			PostOnly:      order.Type == TypePostOnly,
			ReduceOnly:    order.ReduceOnly,
		})
		if err != nil {
			return nil, err
		}
		posted = remaining
	}

	result.FilledQuantity = filled
	result.RemainingQuantity = remaining
	result.PostedQuantity = posted
	switch {
	case filled == order.Quantity:
		result.Status = StatusFilled
	case filled == 0 && posted > 0:
		result.Status = StatusAccepted
	case filled > 0:
		result.Status = StatusPartialFill
	default:
		result.Status = StatusCancelled
	}
	return result, nil
}

// bestLive is the highest-priority resting order that has not expired.
func (bs *BookSide) bestLive(now uint64) (Order, bool) {
	var best Order
	found := false
	bs.Ascend(func(o Order) bool {
		if o.IsExpired(now) {
			return true
		}
		best, found = o, true
		return false
	})
	return best, found
}
