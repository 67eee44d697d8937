package engine

import (
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"
)

const (
	DefaultBookSideCapacity = 1024

	maxPrice = int64(1<<63 - 1)
)

// bookKey orders resting orders by price, then by insertion sequence.
type bookKey struct {
	price int64
	seq   OrderID
	slot  uint32
}

func bidLess(a, b bookKey) bool {
	if a.price != b.price {
		return a.price > b.price // sorted descending (highest first)
	}
	return a.seq < b.seq
}

func askLess(a, b bookKey) bool {
	if a.price != b.price {
		return a.price < b.price // sorted ascending (lowest first)
	}
	return a.seq < b.seq
}

type clientKey struct {
	owner    uuid.UUID
	clientID uint64
}

// BookSide is a fixed-capacity arena of order slots with a free list, indexed
// in priority order by a btree. It never grows after Init.
type BookSide struct {
	side     Side
	slots    []Order
	free     []uint32
	index    *btree.BTreeG[bookKey]
	byID     map[OrderID]uint32
	byClient map[clientKey]uint32
}

func NewBookSide(side Side, capacity int) *BookSide {
	bs := &BookSide{}
	bs.Init(side, capacity)
	return bs
}

// Init resets the side to empty with every slot on the free list.
func (bs *BookSide) Init(side Side, capacity int) {
	less := askLess
	if side == SideBid {
		less = bidLess
	}
	bs.side = side
	bs.slots = make([]Order, capacity)
	bs.free = make([]uint32, capacity)
	for i := range bs.free {
		// lowest slot pops first
		bs.free[i] = uint32(capacity - 1 - i)
	}
	bs.index = btree.NewG[bookKey](32, less)
	bs.byID = make(map[OrderID]uint32)
	bs.byClient = make(map[clientKey]uint32)
}

func (bs *BookSide) Side() Side     { return bs.side }
func (bs *BookSide) Len() int       { return bs.index.Len() }
func (bs *BookSide) Capacity() int  { return len(bs.slots) }
func (bs *BookSide) IsEmpty() bool  { return bs.index.Len() == 0 }
func (bs *BookSide) FreeSlots() int { return len(bs.free) }

func (bs *BookSide) Insert(o Order) error {
	if o.Side != bs.side {
		return fmt.Errorf("%s order on %s side: %w", o.Side, bs.side, ErrInvalidOrder)
	}
	if _, exists := bs.byID[o.ID]; exists {
		return fmt.Errorf("order %d already resting: %w", o.ID, ErrInvalidOrder)
	}
	ck := clientKey{owner: o.Owner, clientID: o.ClientOrderID}
	// client id 0 means the owner did not tag the order
	if o.ClientOrderID != 0 {
		if _, exists := bs.byClient[ck]; exists {
			return fmt.Errorf("client order id %d: %w", o.ClientOrderID, ErrDuplicateClientID)
		}
	}
	if len(bs.free) == 0 {
		return fmt.Errorf("%s side holds %d orders: %w", bs.side, len(bs.slots), ErrBookFull)
	}

	slot := bs.free[len(bs.free)-1]
	bs.free = bs.free[:len(bs.free)-1]
	bs.slots[slot] = o
	bs.index.ReplaceOrInsert(bookKey{price: o.Price, seq: o.ID, slot: slot})
	bs.byID[o.ID] = slot
	if o.ClientOrderID != 0 {
		bs.byClient[ck] = slot
	}
	return nil
}

func (bs *BookSide) Remove(id OrderID) (Order, error) {
	slot, ok := bs.byID[id]
	if !ok {
		return Order{}, fmt.Errorf("order %d on %s side: %w", id, bs.side, ErrOrderNotFound)
	}
	return bs.removeSlot(slot), nil
}

func (bs *BookSide) RemoveByClientOrderID(owner uuid.UUID, clientID uint64) (Order, error) {
	slot, ok := bs.byClient[clientKey{owner: owner, clientID: clientID}]
	if !ok || clientID == 0 {
		return Order{}, fmt.Errorf("client order id %d on %s side: %w", clientID, bs.side, ErrOrderNotFound)
	}
	return bs.removeSlot(slot), nil
}

func (bs *BookSide) removeSlot(slot uint32) Order {
	o := bs.slots[slot]
	bs.index.Delete(bookKey{price: o.Price, seq: o.ID, slot: slot})
	delete(bs.byID, o.ID)
	if o.ClientOrderID != 0 {
		delete(bs.byClient, clientKey{owner: o.Owner, clientID: o.ClientOrderID})
	}
	bs.slots[slot] = Order{}
	bs.free = append(bs.free, slot)
	return o
}

// PeekBest returns the highest-priority order without removing it.
func (bs *BookSide) PeekBest() (Order, bool) {
	k, ok := bs.index.Min()
	if !ok {
		return Order{}, false
	}
	return bs.slots[k.slot], true
}

func (bs *BookSide) Get(id OrderID) (Order, bool) {
	slot, ok := bs.byID[id]
	if !ok {
		return Order{}, false
	}
	return bs.slots[slot], true
}

// reduce lowers a resting order's quantity in place, removing it when it reaches zero.
func (bs *BookSide) reduce(id OrderID, qty int64) (Order, error) {
	slot, ok := bs.byID[id]
	if !ok {
		return Order{}, fmt.Errorf("order %d on %s side: %w", id, bs.side, ErrOrderNotFound)
	}
	o := &bs.slots[slot]
	if qty <= 0 || qty > o.Quantity {
		return Order{}, fmt.Errorf("reduce order %d by %d of %d: %w", id, qty, o.Quantity, ErrInvalidOrder)
	}
	o.Quantity -= qty
	if o.Quantity == 0 {
		return bs.removeSlot(slot), nil
	}
	return *o, nil
}

// Ascend visits orders in priority order until fn returns false.
func (bs *BookSide) Ascend(fn func(o Order) bool) {
	bs.index.Ascend(func(k bookKey) bool {
		return fn(bs.slots[k.slot])
	})
}

type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Levels aggregates quantity per price, best first, up to depth levels.
func (bs *BookSide) Levels(depth int) []PriceLevel {
	levels := make([]PriceLevel, 0, depth)
	bs.Ascend(func(o Order) bool {
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Quantity += o.Quantity
			levels[n-1].Orders++
			return true
		}
		if len(levels) >= depth {
			return false
		}
		levels = append(levels, PriceLevel{Price: o.Price, Quantity: o.Quantity, Orders: 1})
		return true
	})
	return levels
}

// Clone returns an independent copy. The btree is shared copy-on-write.
func (bs *BookSide) Clone() *BookSide {
	cp := &BookSide{
		side:     bs.side,
		slots:    append([]Order(nil), bs.slots...),
		free:     append(make([]uint32, 0, cap(bs.free)), bs.free...),
		index:    bs.index.Clone(),
		byID:     make(map[OrderID]uint32, len(bs.byID)),
		byClient: make(map[clientKey]uint32, len(bs.byClient)),
	}
	for k, v := range bs.byID {
		cp.byID[k] = v
	}
	for k, v := range bs.byClient {
		cp.byClient[k] = v
	}
	return cp
}
