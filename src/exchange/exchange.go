package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"perp-market/src/apperr"
	"perp-market/src/engine"
	"perp-market/src/governance"
	"perp-market/src/metrics"
)

var (
	ErrMarketExists   = apperr.New(apperr.KindValidation, "MarketExists", "perp market index already in use")
	ErrMarketNotFound = apperr.New(apperr.KindNotFound, "MarketNotFound", "perp market not found")
)

// Recorder persists notifications. A failed write rolls the operation back.
type Recorder interface {
	SaveMarketCreated(ctx context.Context, ev engine.MarketCreated) error
	SaveEvents(ctx context.Context, market engine.PerpMarketIndex, events []engine.Event) error
}

// slot guards one market. Operations on different markets never contend.
type slot struct {
	mu     sync.Mutex
	market *engine.Market
}

// Exchange hosts the perp markets of one group. Every mutating operation
// runs against a staged clone of the market and swaps it in only when the
// whole operation succeeded.
type Exchange struct {
	group   engine.Group
	gate    *governance.Gate
	factory *engine.MarketFactory
	clock   engine.Clock
	store   Recorder
	metrics *metrics.Metrics
	alloc   *RegionAllocator

	mu      sync.RWMutex
	markets map[engine.PerpMarketIndex]*slot
}

type Option func(*Exchange)

func WithClock(c engine.Clock) Option { return func(e *Exchange) { e.clock = c } }

func WithRecorder(r Recorder) Option { return func(e *Exchange) { e.store = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Exchange) { e.metrics = m } }

func New(group engine.Group, gate *governance.Gate, opts ...Option) *Exchange {
	e := &Exchange{
		group:   group,
		gate:    gate,
		clock:   engine.SystemClock{},
		alloc:   NewRegionAllocator(),
		markets: make(map[engine.PerpMarketIndex]*slot),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.factory = engine.NewMarketFactory(gate, e.alloc, e.clock)
	return e
}

func (e *Exchange) Group() engine.Group { return e.group }

func (e *Exchange) Gate() *governance.Gate { return e.gate }

func (e *Exchange) Allocator() *RegionAllocator { return e.alloc }

// Now is the exchange clock in unix seconds.
func (e *Exchange) Now() uint64 { return e.clock.Now() }

// CreateMarket registers a new market at p.PerpMarketIndex. The oracle feed
// seeds the stable price.
func (e *Exchange) CreateMarket(ctx context.Context, admin uuid.UUID, p engine.CreateParams, oracleFeed []byte) (engine.PerpMarket, engine.MarketCreated, error) {
	start := time.Now()
	op := governance.OpPerpCreateMarket
	defer func() { e.metrics.ObserveOperation(op.String(), time.Since(start)) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.markets[p.PerpMarketIndex]; exists {
		err := fmt.Errorf("index %d: %w", p.PerpMarketIndex, ErrMarketExists)
		e.reject(op, p.PerpMarketIndex, err)
		return engine.PerpMarket{}, engine.MarketCreated{}, err
	}

	m, created, err := e.factory.Create(&e.group, admin, p, oracleFeed)
	if err != nil {
		e.reject(op, p.PerpMarketIndex, err)
		return engine.PerpMarket{}, engine.MarketCreated{}, err
	}

	if e.store != nil {
		if err := e.store.SaveMarketCreated(ctx, created); err != nil {
			e.alloc.Release(m.Perp.Bids, m.Perp.Asks, m.Perp.EventQueue)
			e.reject(op, p.PerpMarketIndex, err)
			return engine.PerpMarket{}, engine.MarketCreated{}, err
		}
	}

	e.markets[p.PerpMarketIndex] = &slot{market: m}
	e.metrics.MarketCreated()
	e.observe(m)

	log.Info().
		Uint16("market_index", uint16(p.PerpMarketIndex)).
		Str("name", p.Name).
		Str("perp_market", created.PerpMarket.String()).
		Str("stable_price", m.Perp.StablePrice().String()).
		Int64("base_lot_size", p.BaseLotSize).
		Int64("quote_lot_size", p.QuoteLotSize).
		Msg("Perp market created")

	return *m.Perp, created, nil
}

func (e *Exchange) lookup(index engine.PerpMarketIndex) (*slot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.markets[index]
	if !ok {
		return nil, fmt.Errorf("index %d: %w", index, ErrMarketNotFound)
	}
	return s, nil
}

// withMarket runs fn on a staged copy of the market and commits it when fn
// returns nil. On error the committed market is left exactly as it was.
func (e *Exchange) withMarket(op governance.Op, index engine.PerpMarketIndex, fn func(m *engine.Market, now uint64) error) error {
	start := time.Now()
	defer func() { e.metrics.ObserveOperation(op.String(), time.Since(start)) }()

	if !e.gate.IsEnabled(op) {
		err := fmt.Errorf("%s: %w", op, engine.ErrOperationDisabled)
		e.reject(op, index, err)
		return err
	}
	s, err := e.lookup(index)
	if err != nil {
		e.reject(op, index, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.market.Clone()
	if err := fn(staged, e.clock.Now()); err != nil {
		e.reject(op, index, err)
		return err
	}
	s.market = staged
	e.observe(staged)
	return nil
}

// view runs fn on the committed market under its lock without staging.
func (e *Exchange) view(index engine.PerpMarketIndex, fn func(m *engine.Market)) error {
	s, err := e.lookup(index)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.market)
	return nil
}

func (e *Exchange) reject(op governance.Op, index engine.PerpMarketIndex, err error) {
	kind := apperr.KindOf(err)
	e.metrics.OperationFailed(op.String(), string(kind))
	log.Warn().
		Err(err).
		Str("op", op.String()).
		Uint16("market_index", uint16(index)).
		Str("kind", string(kind)).
		Str("code", apperr.CodeOf(err)).
		Msg("Market operation rolled back")
}

func (e *Exchange) observe(m *engine.Market) {
	stable, _ := m.Perp.StablePrice().Float64()
	e.metrics.MarketState(uint16(m.Perp.PerpMarketIndex), m.Book.Bids.Len(), m.Book.Asks.Len(),
		m.Events.Len(), m.Perp.OpenInterest, stable)
}

func (e *Exchange) PlaceOrder(_ context.Context, index engine.PerpMarketIndex, order engine.NewOrder) (*engine.MatchResult, error) {
	var result *engine.MatchResult
	err := e.withMarket(governance.OpPerpPlaceOrder, index, func(m *engine.Market, now uint64) error {
		res, err := m.PlaceOrder(order, now)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.OrderPlaced(uint16(index), string(result.Status), len(result.Fills), result.FilledQuantity)
	log.Info().
		Uint16("market_index", uint16(index)).
		Uint64("order_id", uint64(result.OrderID)).
		Str("owner", order.Owner.String()).
		Str("side", string(order.Side)).
		Str("status", string(result.Status)).
		Int64("filled_quantity", result.FilledQuantity).
		Int64("posted_quantity", result.PostedQuantity).
		Int("fills", len(result.Fills)).
		Msg("Order processed")
	return result, nil
}

func (e *Exchange) CancelOrder(_ context.Context, index engine.PerpMarketIndex, side engine.Side, id engine.OrderID) (engine.Order, error) {
	var cancelled engine.Order
	err := e.withMarket(governance.OpPerpCancelOrder, index, func(m *engine.Market, _ uint64) error {
		o, err := m.Book.Cancel(side, id)
		cancelled = o
		return err
	})
	if err != nil {
		return engine.Order{}, err
	}
	log.Info().
		Uint16("market_index", uint16(index)).
		Uint64("order_id", uint64(id)).
		Str("side", string(side)).
		Msg("Order cancelled")
	return cancelled, nil
}

func (e *Exchange) CancelByClientOrderID(_ context.Context, index engine.PerpMarketIndex, owner uuid.UUID, clientID uint64) (engine.Order, error) {
	var cancelled engine.Order
	err := e.withMarket(governance.OpPerpCancelOrder, index, func(m *engine.Market, _ uint64) error {
		o, err := m.Book.CancelByClientOrderID(owner, clientID)
		cancelled = o
		return err
	})
	if err != nil {
		return engine.Order{}, err
	}
	log.Info().
		Uint16("market_index", uint16(index)).
		Uint64("order_id", uint64(cancelled.ID)).
		Uint64("client_order_id", clientID).
		Msg("Order cancelled")
	return cancelled, nil
}

// UpdateFunding reports applied=false when the clock has not moved past the
// last funding update.
func (e *Exchange) UpdateFunding(_ context.Context, index engine.PerpMarketIndex) (upd engine.FundingUpdate, applied bool, err error) {
	err = e.withMarket(governance.OpPerpUpdateFunding, index, func(m *engine.Market, now uint64) error {
		upd, applied = m.UpdateFunding(now)
		return nil
	})
	if err != nil || !applied {
		return upd, applied, err
	}

	rate, _ := upd.Rate.Float64()
	e.metrics.FundingRate(uint16(index), rate)
	log.Info().
		Uint16("market_index", uint16(index)).
		Str("rate", upd.Rate.String()).
		Str("delta", upd.Delta.String()).
		Uint64("elapsed", upd.Elapsed).
		Msg("Funding updated")
	return upd, applied, nil
}

func (e *Exchange) UpdateStablePrice(_ context.Context, index engine.PerpMarketIndex, feed []byte) (engine.StablePriceModel, error) {
	var model engine.StablePriceModel
	err := e.withMarket(governance.OpPerpUpdateStablePrice, index, func(m *engine.Market, now uint64) error {
		var err error
		model, err = m.UpdateStablePrice(feed, now)
		return err
	})
	if err != nil {
		return engine.StablePriceModel{}, err
	}
	log.Debug().
		Uint16("market_index", uint16(index)).
		Str("stable_price", model.StablePrice.String()).
		Msg("Stable price updated")
	return model, nil
}

type ConsumeRequest struct {
	// Limit caps the events popped; 0 pops everything queued.
	Limit int
	// OpenInterestDelta is the change in base lots the consumer computed
	// from the positions it settled.
	OpenInterestDelta int64
	// SettleFees moves this much of fees_accrued into fees_settled.
	SettleFees decimal.Decimal
}

type ConsumeResult struct {
	Events       []engine.Event  `json:"events"`
	OpenInterest int64           `json:"open_interest"`
	FeesAccrued  decimal.Decimal `json:"fees_accrued"`
	FeesSettled  decimal.Decimal `json:"fees_settled"`
}

// ConsumeEvents hands queued events to the settlement consumer. Popping,
// the open interest change, fee settlement and the archive write succeed
// or fail together.
func (e *Exchange) ConsumeEvents(ctx context.Context, index engine.PerpMarketIndex, req ConsumeRequest) (ConsumeResult, error) {
	var res ConsumeResult
	err := e.withMarket(governance.OpPerpConsumeEvents, index, func(m *engine.Market, _ uint64) error {
		events := m.ConsumeEvents(req.Limit)
		if err := m.Perp.ChangeOpenInterest(req.OpenInterestDelta); err != nil {
			return err
		}
		if !req.SettleFees.IsZero() {
			if err := m.Perp.SettleFees(req.SettleFees); err != nil {
				return err
			}
		}
		if e.store != nil {
			if err := e.store.SaveEvents(ctx, index, events); err != nil {
				return err
			}
		}
		res = ConsumeResult{
			Events:       events,
			OpenInterest: m.Perp.OpenInterest,
			FeesAccrued:  m.Perp.FeesAccrued,
			FeesSettled:  m.Perp.FeesSettled,
		}
		return nil
	})
	if err != nil {
		return ConsumeResult{}, err
	}

	e.metrics.EventsConsumed(uint16(index), len(res.Events))
	log.Info().
		Uint16("market_index", uint16(index)).
		Int("events", len(res.Events)).
		Int64("open_interest", res.OpenInterest).
		Msg("Events consumed")
	return res, nil
}

// PeekEvents returns up to n queued events without consuming them.
func (e *Exchange) PeekEvents(index engine.PerpMarketIndex, n int) ([]engine.Event, error) {
	var events []engine.Event
	err := e.view(index, func(m *engine.Market) { events = m.Events.Peek(n) })
	return events, err
}

// Market returns a copy of the committed market record.
func (e *Exchange) Market(index engine.PerpMarketIndex) (engine.PerpMarket, error) {
	var pm engine.PerpMarket
	err := e.view(index, func(m *engine.Market) { pm = *m.Perp })
	return pm, err
}

func (e *Exchange) Snapshot(index engine.PerpMarketIndex, depth int) (engine.BookSnapshot, error) {
	var snap engine.BookSnapshot
	err := e.view(index, func(m *engine.Market) { snap = m.Book.Snapshot(depth) })
	return snap, err
}

func (e *Exchange) Order(index engine.PerpMarketIndex, id engine.OrderID) (engine.Order, error) {
	var (
		o     engine.Order
		found bool
	)
	if err := e.view(index, func(m *engine.Market) { o, found = m.Book.Get(id) }); err != nil {
		return engine.Order{}, err
	}
	if !found {
		return engine.Order{}, fmt.Errorf("order %d: %w", id, engine.ErrOrderNotFound)
	}
	return o, nil
}

func (e *Exchange) Markets() []engine.PerpMarketIndex {
	e.mu.RLock()
	out := make([]engine.PerpMarketIndex, 0, len(e.markets))
	for idx := range e.markets {
		out = append(out, idx)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type Stats struct {
	Markets       int `json:"markets"`
	RestingOrders int `json:"resting_orders"`
	QueuedEvents  int `json:"queued_events"`
}

func (e *Exchange) Stats() Stats {
	var st Stats
	for _, idx := range e.Markets() {
		_ = e.view(idx, func(m *engine.Market) {
			st.Markets++
			st.RestingOrders += m.Book.Bids.Len() + m.Book.Asks.Len()
			st.QueuedEvents += m.Events.Len()
		})
	}
	return st
}
