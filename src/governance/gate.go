package governance

import (
	"fmt"
	"sync/atomic"
)

// Op names an operation the group admin can switch off.
type Op uint8

const (
	OpPerpCreateMarket Op = iota
	OpPerpPlaceOrder
	OpPerpCancelOrder
	OpPerpUpdateFunding
	OpPerpUpdateStablePrice
	OpPerpConsumeEvents
	opCount
)

var opNames = [...]string{
	OpPerpCreateMarket:      "PerpCreateMarket",
	OpPerpPlaceOrder:        "PerpPlaceOrder",
	OpPerpCancelOrder:       "PerpCancelOrder",
	OpPerpUpdateFunding:     "PerpUpdateFunding",
	OpPerpUpdateStablePrice: "PerpUpdateStablePrice",
	OpPerpConsumeEvents:     "PerpConsumeEvents",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

func ParseOp(name string) (Op, error) {
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}

// Gate is a bitmask of disabled operations, safe for concurrent use.
type Gate struct {
	disabled atomic.Uint64
}

func NewGate(disabled ...Op) *Gate {
	g := &Gate{}
	for _, op := range disabled {
		g.Disable(op)
	}
	return g
}

func (g *Gate) IsEnabled(op Op) bool {
	return g.disabled.Load()&(1<<op) == 0
}

func (g *Gate) Disable(op Op) {
	for {
		old := g.disabled.Load()
		if g.disabled.CompareAndSwap(old, old|1<<op) {
			return
		}
	}
}

func (g *Gate) Enable(op Op) {
	for {
		old := g.disabled.Load()
		if g.disabled.CompareAndSwap(old, old&^(1<<op)) {
			return
		}
	}
}
