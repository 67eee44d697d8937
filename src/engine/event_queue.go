package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultEventQueueCapacity = 488

type EventKind string

const (
	EventFill EventKind = "FILL"
	EventOut  EventKind = "OUT"
)

// Event is one fixed-size queue slot. For Fill events Side is the taker's
// side; for Out events Side and the Maker fields describe the removed order.
type Event struct {
	Kind      EventKind `json:"kind"`
	Side      Side      `json:"side"`
	Timestamp uint64    `json:"timestamp"`
	SeqNum    uint64    `json:"seq_num"`

	Maker              uuid.UUID       `json:"maker"`
	MakerOrderID       OrderID         `json:"maker_order_id"`
	MakerClientOrderID uint64          `json:"maker_client_order_id"`
	MakerTimestamp     uint64          `json:"maker_timestamp"`
	MakerFee           decimal.Decimal `json:"maker_fee"`
	// MakerOut is set when the fill consumed the whole resting order.
	MakerOut bool `json:"maker_out"`

	Taker              uuid.UUID       `json:"taker"`
	TakerOrderID       OrderID         `json:"taker_order_id"`
	TakerClientOrderID uint64          `json:"taker_client_order_id"`
	TakerFee           decimal.Decimal `json:"taker_fee"`

	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

func newFillEvent(taker *NewOrder, takerID OrderID, maker Order, qty int64, pm *PerpMarket, now uint64) Event {
	return Event{
		Kind:               EventFill,
		Side:               taker.Side,
		Timestamp:          now,
		Maker:              maker.Owner,
		MakerOrderID:       maker.ID,
		MakerClientOrderID: maker.ClientOrderID,
		MakerTimestamp:     maker.Timestamp,
		MakerFee:           pm.MakerFee,
		MakerOut:           qty == maker.Quantity,
		Taker:              taker.Owner,
		TakerOrderID:       takerID,
		TakerClientOrderID: taker.ClientOrderID,
		TakerFee:           pm.TakerFee,
		Price:              maker.Price,
		Quantity:           qty,
	}
}

func newOutEvent(o Order, qty int64, now uint64) Event {
	return Event{
		Kind:               EventOut,
		Side:               o.Side,
		Timestamp:          now,
		Maker:              o.Owner,
		MakerOrderID:       o.ID,
		MakerClientOrderID: o.ClientOrderID,
		MakerTimestamp:     o.Timestamp,
		Price:              o.Price,
		Quantity:           qty,
	}
}

// EventQueue is a fixed-capacity ring. Push never overwrites an unconsumed slot.
type EventQueue struct {
	buf    []Event
	head   int
	count  int
	seqNum uint64
}

func NewEventQueue(capacity int) *EventQueue {
	return &EventQueue{buf: make([]Event, capacity)}
}

func (q *EventQueue) Len() int      { return q.count }
func (q *EventQueue) Capacity() int { return len(q.buf) }
func (q *EventQueue) Full() bool    { return q.count == len(q.buf) }
func (q *EventQueue) Empty() bool   { return q.count == 0 }

// SeqNum is the sequence number the next pushed event will carry.
func (q *EventQueue) SeqNum() uint64 { return q.seqNum }

// Push stamps ev with the next sequence number and appends it.
func (q *EventQueue) Push(ev Event) (uint64, error) {
	if q.Full() {
		return 0, fmt.Errorf("%d unconsumed events: %w", q.count, ErrQueueOverflow)
	}
	ev.SeqNum = q.seqNum
	q.buf[(q.head+q.count)%len(q.buf)] = ev
	q.count++
	q.seqNum++
	return ev.SeqNum, nil
}

func (q *EventQueue) PeekFront() (Event, bool) {
	if q.count == 0 {
		return Event{}, false
	}
	return q.buf[q.head], true
}

func (q *EventQueue) PopFront() (Event, bool) {
	if q.count == 0 {
		return Event{}, false
	}
	ev := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return ev, true
}

// Peek returns up to n events from the front without consuming them.
func (q *EventQueue) Peek(n int) []Event {
	if n > q.count || n < 0 {
		n = q.count
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

func (q *EventQueue) Clone() *EventQueue {
	cp := *q
	cp.buf = append([]Event(nil), q.buf...)
	return &cp
}
