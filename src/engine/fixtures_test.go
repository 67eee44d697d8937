package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"perp-market/src/governance"
	"perp-market/src/oracle"
)

type fixedClock struct{ now uint64 }

func (c *fixedClock) Now() uint64 { return c.now }

type countingAllocator struct {
	calls []Layout
	err   error
	// failAt limits err to the n-th call (1-based); 0 fails every call.
	failAt   int
	issued   []uuid.UUID
	released []uuid.UUID
}

func (a *countingAllocator) InitZeroed(layout Layout) (uuid.UUID, error) {
	if a.err != nil && (a.failAt == 0 || len(a.calls) == a.failAt-1) {
		return uuid.Nil, a.err
	}
	a.calls = append(a.calls, layout)
	id := uuid.New()
	a.issued = append(a.issued, id)
	return id, nil
}

func (a *countingAllocator) Release(ids ...uuid.UUID) {
	a.released = append(a.released, ids...)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func validParams() CreateParams {
	return CreateParams{
		PerpMarketIndex:            1,
		SettleTokenIndex:           QuoteTokenIndex,
		Name:                       "BTC-PERP",
		Oracle:                     uuid.New(),
		OracleConfig:               oracle.DefaultConfig(),
		BaseDecimals:               6,
		QuoteLotSize:               10,
		BaseLotSize:                100,
		MaintBaseAssetWeight:       dec("0.975"),
		InitBaseAssetWeight:        dec("0.95"),
		MaintBaseLiabWeight:        dec("1.025"),
		InitBaseLiabWeight:         dec("1.05"),
		MaintPnlAssetWeight:        dec("1"),
		InitPnlAssetWeight:         dec("0.5"),
		LiquidationFee:             dec("0.0125"),
		MakerFee:                   dec("-0.0001"),
		TakerFee:                   dec("0.0004"),
		FeePenalty:                 dec("0"),
		MinFunding:                 dec("-0.05"),
		MaxFunding:                 dec("0.05"),
		ImpactQuantity:             10,
		SettleFeeFlat:              dec("1000"),
		SettleFeeAmountThreshold:   dec("1000000"),
		SettleFeeFractionLowHealth: dec("0.01"),
		SettlePnlLimitFactor:       dec("0.2"),
		SettlePnlLimitWindowSizeTs: 86400,
		BookSideCapacity:           64,
		EventQueueCapacity:         32,
	}
}

// stubFeed prices one whole base unit at price quote units.
func stubFeed(price int64) []byte {
	return oracle.StubFeed{Mantissa: price, Expo: 0, LastUpdated: 1}.Encode()
}

type testEnv struct {
	clock   *fixedClock
	alloc   *countingAllocator
	gate    *governance.Gate
	group   *Group
	factory *MarketFactory
}

func newTestEnv() *testEnv {
	env := &testEnv{
		clock: &fixedClock{now: 1_700_000_000},
		alloc: &countingAllocator{},
		gate:  governance.NewGate(),
		group: &Group{ID: uuid.New(), Admin: uuid.New(), PerpsSupported: true},
	}
	env.factory = NewMarketFactory(env.gate, env.alloc, env.clock)
	return env
}

func (env *testEnv) newMarket(t *testing.T) *Market {
	t.Helper()
	m, _, err := env.factory.Create(env.group, env.group.Admin, validParams(), stubFeed(100))
	require.NoError(t, err)
	return m
}

func limit(side Side, owner uuid.UUID, price, qty int64) NewOrder {
	return NewOrder{Side: side, Type: TypeLimit, Owner: owner, Price: price, Quantity: qty}
}
