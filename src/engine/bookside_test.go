package engine

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookSidePeekBestFollowsPriority(t *testing.T) {
	for _, side := range []Side{SideBid, SideAsk} {
		t.Run(string(side), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			bs := NewBookSide(side, 256)

			var inserted []Order
			for i := 1; i <= 200; i++ {
				o := Order{ID: OrderID(i), Side: side, Owner: uuid.New(), Price: 90 + rng.Int63n(20), Quantity: 1 + rng.Int63n(5)}
				require.NoError(t, bs.Insert(o))
				inserted = append(inserted, o)
			}

			sort.SliceStable(inserted, func(i, j int) bool {
				a, b := inserted[i], inserted[j]
				if a.Price != b.Price {
					if side == SideBid {
						return a.Price > b.Price
					}
					return a.Price < b.Price
				}
				return a.ID < b.ID
			})

			for _, want := range inserted {
				got, ok := bs.PeekBest()
				require.True(t, ok)
				require.Equal(t, want.ID, got.ID)
				_, err := bs.Remove(got.ID)
				require.NoError(t, err)
			}
			_, ok := bs.PeekBest()
			assert.False(t, ok)
			assert.Equal(t, 256, bs.FreeSlots())
		})
	}
}

func TestBookSideEarlierInsertionWinsAtEqualPrice(t *testing.T) {
	bs := NewBookSide(SideAsk, 8)
	require.NoError(t, bs.Insert(Order{ID: 7, Side: SideAsk, Price: 100, Quantity: 1}))
	require.NoError(t, bs.Insert(Order{ID: 3, Side: SideAsk, Price: 100, Quantity: 1}))

	best, ok := bs.PeekBest()
	require.True(t, ok)
	assert.Equal(t, OrderID(3), best.ID)
}

func TestBookSideFull(t *testing.T) {
	bs := NewBookSide(SideBid, 2)
	require.NoError(t, bs.Insert(Order{ID: 1, Side: SideBid, Price: 10, Quantity: 1}))
	require.NoError(t, bs.Insert(Order{ID: 2, Side: SideBid, Price: 11, Quantity: 1}))

	err := bs.Insert(Order{ID: 3, Side: SideBid, Price: 12, Quantity: 1})
	assert.ErrorIs(t, err, ErrBookFull)
	assert.Equal(t, 2, bs.Len())

	// a freed slot is reused
	_, err = bs.Remove(1)
	require.NoError(t, err)
	assert.NoError(t, bs.Insert(Order{ID: 3, Side: SideBid, Price: 12, Quantity: 1}))
}

func TestBookSideRemoveMissing(t *testing.T) {
	bs := NewBookSide(SideBid, 4)
	_, err := bs.Remove(99)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestBookSideClientOrderIDUnique(t *testing.T) {
	owner := uuid.New()
	bs := NewBookSide(SideBid, 4)
	require.NoError(t, bs.Insert(Order{ID: 1, Side: SideBid, Owner: owner, Price: 10, Quantity: 1, ClientOrderID: 5}))

	err := bs.Insert(Order{ID: 2, Side: SideBid, Owner: owner, Price: 11, Quantity: 1, ClientOrderID: 5})
	assert.ErrorIs(t, err, ErrDuplicateClientID)

	// another owner may reuse the id
	assert.NoError(t, bs.Insert(Order{ID: 3, Side: SideBid, Owner: uuid.New(), Price: 11, Quantity: 1, ClientOrderID: 5}))

	removed, err := bs.RemoveByClientOrderID(owner, 5)
	require.NoError(t, err)
	assert.Equal(t, OrderID(1), removed.ID)
	assert.NoError(t, bs.Insert(Order{ID: 4, Side: SideBid, Owner: owner, Price: 9, Quantity: 1, ClientOrderID: 5}))
}

func TestBookSideRejectsWrongSide(t *testing.T) {
	bs := NewBookSide(SideBid, 4)
	err := bs.Insert(Order{ID: 1, Side: SideAsk, Price: 10, Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestBookSideLevels(t *testing.T) {
	bs := NewBookSide(SideAsk, 8)
	require.NoError(t, bs.Insert(Order{ID: 1, Side: SideAsk, Price: 101, Quantity: 2}))
	require.NoError(t, bs.Insert(Order{ID: 2, Side: SideAsk, Price: 100, Quantity: 3}))
	require.NoError(t, bs.Insert(Order{ID: 3, Side: SideAsk, Price: 100, Quantity: 4}))
	require.NoError(t, bs.Insert(Order{ID: 4, Side: SideAsk, Price: 105, Quantity: 1}))

	levels := bs.Levels(2)
	require.Len(t, levels, 2)
	assert.Equal(t, PriceLevel{Price: 100, Quantity: 7, Orders: 2}, levels[0])
	assert.Equal(t, PriceLevel{Price: 101, Quantity: 2, Orders: 1}, levels[1])
}

func TestBookSideCloneIsIndependent(t *testing.T) {
	bs := NewBookSide(SideBid, 4)
	require.NoError(t, bs.Insert(Order{ID: 1, Side: SideBid, Price: 10, Quantity: 1}))

	cp := bs.Clone()
	require.NoError(t, cp.Insert(Order{ID: 2, Side: SideBid, Price: 20, Quantity: 1}))
	_, err := cp.Remove(1)
	require.NoError(t, err)

	assert.Equal(t, 1, bs.Len())
	best, _ := bs.PeekBest()
	assert.Equal(t, OrderID(1), best.ID)
	best, _ = cp.PeekBest()
	assert.Equal(t, OrderID(2), best.ID)
}
