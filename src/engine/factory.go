package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perp-market/src/apperr"
	"perp-market/src/governance"
	"perp-market/src/oracle"
)

type Governance interface {
	IsEnabled(op governance.Op) bool
}

type Clock interface {
	Now() uint64
}

type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

type LayoutKind string

const (
	LayoutBookSide   LayoutKind = "BookSide"
	LayoutEventQueue LayoutKind = "EventQueue"
)

type Layout struct {
	Kind     LayoutKind
	Capacity int
}

// Allocator provides zero-filled storage regions and returns their handles.
type Allocator interface {
	InitZeroed(layout Layout) (uuid.UUID, error)
	Release(ids ...uuid.UUID)
}

type Group struct {
	ID             uuid.UUID `json:"id"`
	Admin          uuid.UUID `json:"admin"`
	PerpsSupported bool      `json:"perps_supported"`
}

type CreateParams struct {
	PerpMarketIndex  PerpMarketIndex `json:"perp_market_index"`
	SettleTokenIndex TokenIndex      `json:"settle_token_index"`
	Name             string          `json:"name"`

	Oracle       uuid.UUID     `json:"oracle"`
	OracleConfig oracle.Config `json:"oracle_config"`
	BaseDecimals uint8         `json:"base_decimals"`

	QuoteLotSize int64 `json:"quote_lot_size"`
	BaseLotSize  int64 `json:"base_lot_size"`

	MaintBaseAssetWeight decimal.Decimal `json:"maint_base_asset_weight"`
	InitBaseAssetWeight  decimal.Decimal `json:"init_base_asset_weight"`
	MaintBaseLiabWeight  decimal.Decimal `json:"maint_base_liab_weight"`
	InitBaseLiabWeight   decimal.Decimal `json:"init_base_liab_weight"`
	MaintPnlAssetWeight  decimal.Decimal `json:"maint_pnl_asset_weight"`
	InitPnlAssetWeight   decimal.Decimal `json:"init_pnl_asset_weight"`

	LiquidationFee decimal.Decimal `json:"liquidation_fee"`
	MakerFee       decimal.Decimal `json:"maker_fee"`
	TakerFee       decimal.Decimal `json:"taker_fee"`
	FeePenalty     decimal.Decimal `json:"fee_penalty"`

	MinFunding     decimal.Decimal `json:"min_funding"`
	MaxFunding     decimal.Decimal `json:"max_funding"`
	ImpactQuantity int64           `json:"impact_quantity"`

	GroupInsuranceFund bool `json:"group_insurance_fund"`

	SettleFeeFlat              decimal.Decimal `json:"settle_fee_flat"`
	SettleFeeAmountThreshold   decimal.Decimal `json:"settle_fee_amount_threshold"`
	SettleFeeFractionLowHealth decimal.Decimal `json:"settle_fee_fraction_low_health"`
	// SettlePnlLimitFactor < 0 disables the settle pnl limit.
	SettlePnlLimitFactor       decimal.Decimal `json:"settle_pnl_limit_factor"`
	SettlePnlLimitWindowSizeTs uint64          `json:"settle_pnl_limit_window_size_ts"`

	// StableGrowthLimit defaults to DefaultStableGrowthLimit when zero.
	StableGrowthLimit decimal.Decimal `json:"stable_growth_limit"`

	BookSideCapacity   int `json:"book_side_capacity"`
	EventQueueCapacity int `json:"event_queue_capacity"`
}

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

func between(v, lo, hi decimal.Decimal) bool {
	return v.GreaterThanOrEqual(lo) && v.LessThanOrEqual(hi)
}

// Validate checks parameters before anything is allocated. The settlement
// token is checked first.
func (p *CreateParams) Validate() error {
	if p.SettleTokenIndex != QuoteTokenIndex {
		return fmt.Errorf("settle token %d: %w", p.SettleTokenIndex, ErrUnsupportedSettlementToken)
	}
	if len(p.Name) > MaxNameLen {
		return fmt.Errorf("name %q is %d bytes: %w", p.Name, len(p.Name), ErrNameTooLong)
	}
	if p.QuoteLotSize <= 0 || p.BaseLotSize <= 0 {
		return fmt.Errorf("quote lot %d base lot %d: %w", p.QuoteLotSize, p.BaseLotSize, ErrInvalidLotSize)
	}

	// maintenance thresholds are reached before initial ones
	switch {
	case !between(p.InitBaseAssetWeight, zero, p.MaintBaseAssetWeight) || p.MaintBaseAssetWeight.GreaterThan(one):
		return fmt.Errorf("base asset weights init %s maint %s: %w", p.InitBaseAssetWeight, p.MaintBaseAssetWeight, ErrInvalidRiskWeights)
	case p.MaintBaseLiabWeight.LessThan(one) || p.InitBaseLiabWeight.LessThan(p.MaintBaseLiabWeight):
		return fmt.Errorf("base liab weights init %s maint %s: %w", p.InitBaseLiabWeight, p.MaintBaseLiabWeight, ErrInvalidRiskWeights)
	case !between(p.InitPnlAssetWeight, zero, p.MaintPnlAssetWeight) || p.MaintPnlAssetWeight.GreaterThan(one):
		return fmt.Errorf("pnl asset weights init %s maint %s: %w", p.InitPnlAssetWeight, p.MaintPnlAssetWeight, ErrInvalidRiskWeights)
	}

	switch {
	case !between(p.TakerFee, zero, one) || p.TakerFee.Equal(one):
		return fmt.Errorf("taker fee %s: %w", p.TakerFee, ErrInvalidFee)
	case p.MakerFee.GreaterThanOrEqual(one) || p.MakerFee.Add(p.TakerFee).IsNegative():
		return fmt.Errorf("maker fee %s with taker fee %s: %w", p.MakerFee, p.TakerFee, ErrInvalidFee)
	case !between(p.LiquidationFee, zero, one) || p.LiquidationFee.Equal(one):
		return fmt.Errorf("liquidation fee %s: %w", p.LiquidationFee, ErrInvalidFee)
	case p.FeePenalty.IsNegative() || p.SettleFeeFlat.IsNegative() || p.SettleFeeAmountThreshold.IsNegative():
		return fmt.Errorf("fee penalty %s settle fee flat %s threshold %s: %w",
			p.FeePenalty, p.SettleFeeFlat, p.SettleFeeAmountThreshold, ErrInvalidFee)
	case !between(p.SettleFeeFractionLowHealth, zero, one):
		return fmt.Errorf("settle fee fraction low health %s: %w", p.SettleFeeFractionLowHealth, ErrInvalidFee)
	}

	if p.MinFunding.GreaterThan(p.MaxFunding) {
		return fmt.Errorf("min %s max %s: %w", p.MinFunding, p.MaxFunding, ErrInvalidFunding)
	}
	if p.ImpactQuantity <= 0 {
		return apperr.Validation("InvalidImpactQuantity", "impact quantity %d must be positive", p.ImpactQuantity)
	}
	if !p.OracleConfig.ConfFilter.IsPositive() {
		return apperr.Validation("InvalidOracleConfig", "oracle conf filter %s must be positive", p.OracleConfig.ConfFilter)
	}
	if p.StableGrowthLimit.IsNegative() {
		return apperr.Validation("InvalidStableGrowthLimit", "stable growth limit %s is negative", p.StableGrowthLimit)
	}
	if p.BookSideCapacity < 0 || p.EventQueueCapacity < 0 {
		return apperr.Validation("InvalidCapacity", "book side capacity %d, event queue capacity %d", p.BookSideCapacity, p.EventQueueCapacity)
	}
	return nil
}

// MarketCreated is emitted once per successful market creation.
type MarketCreated struct {
	Group           uuid.UUID       `json:"group"`
	PerpMarket      uuid.UUID       `json:"perp_market"`
	PerpMarketIndex PerpMarketIndex `json:"perp_market_index"`
	BaseDecimals    uint8           `json:"base_decimals"`
	BaseLotSize     int64           `json:"base_lot_size"`
	QuoteLotSize    int64           `json:"quote_lot_size"`
	Oracle          uuid.UUID       `json:"oracle"`
	Name            string          `json:"name"`
	Timestamp       uint64          `json:"timestamp"`
}

type MarketFactory struct {
	gov   Governance
	alloc Allocator
	clock Clock
}

func NewMarketFactory(gov Governance, alloc Allocator, clock Clock) *MarketFactory {
	return &MarketFactory{gov: gov, alloc: alloc, clock: clock}
}

// Create validates the request, seeds the stable price from one oracle
// read and builds a market with an empty book and queue.
func (f *MarketFactory) Create(group *Group, admin uuid.UUID, p CreateParams, oracleFeed []byte) (*Market, MarketCreated, error) {
	if !f.gov.IsEnabled(governance.OpPerpCreateMarket) {
		return nil, MarketCreated{}, fmt.Errorf("%s: %w", governance.OpPerpCreateMarket, ErrOperationDisabled)
	}
	if admin != group.Admin {
		return nil, MarketCreated{}, fmt.Errorf("signer %s: %w", admin, ErrNotAdmin)
	}
	if !group.PerpsSupported {
		return nil, MarketCreated{}, fmt.Errorf("group %s: %w", group.ID, ErrPerpsNotSupported)
	}
	if err := p.Validate(); err != nil {
		return nil, MarketCreated{}, err
	}

	now := f.clock.Now()
	bookCap := p.BookSideCapacity
	if bookCap == 0 {
		bookCap = DefaultBookSideCapacity
	}
	queueCap := p.EventQueueCapacity
	if queueCap == 0 {
		queueCap = DefaultEventQueueCapacity
	}
	growth := p.StableGrowthLimit
	if growth.IsZero() {
		growth = DefaultStableGrowthLimit
	}

	pm := &PerpMarket{
		Group:                      group.ID,
		SettleTokenIndex:           p.SettleTokenIndex,
		PerpMarketIndex:            p.PerpMarketIndex,
		GroupInsuranceFund:         p.GroupInsuranceFund,
		BaseDecimals:               p.BaseDecimals,
		Name:                       p.Name,
		Oracle:                     p.Oracle,
		OracleConfig:               p.OracleConfig,
		StablePriceModel:           NewStablePriceModel(growth),
		QuoteLotSize:               p.QuoteLotSize,
		BaseLotSize:                p.BaseLotSize,
		MaintBaseAssetWeight:       p.MaintBaseAssetWeight,
		InitBaseAssetWeight:        p.InitBaseAssetWeight,
		MaintBaseLiabWeight:        p.MaintBaseLiabWeight,
		InitBaseLiabWeight:         p.InitBaseLiabWeight,
		MaintPnlAssetWeight:        p.MaintPnlAssetWeight,
		InitPnlAssetWeight:         p.InitPnlAssetWeight,
		RegistrationTime:           now,
		MinFunding:                 p.MinFunding,
		MaxFunding:                 p.MaxFunding,
		ImpactQuantity:             p.ImpactQuantity,
		LongFunding:                decimal.Zero,
		ShortFunding:               decimal.Zero,
		FundingLastUpdated:         now,
		LiquidationFee:             p.LiquidationFee,
		MakerFee:                   p.MakerFee,
		TakerFee:                   p.TakerFee,
		FeesAccrued:                decimal.Zero,
		FeesSettled:                decimal.Zero,
		FeePenalty:                 p.FeePenalty,
		SettleFeeFlat:              p.SettleFeeFlat,
		SettleFeeAmountThreshold:   p.SettleFeeAmountThreshold,
		SettleFeeFractionLowHealth: p.SettleFeeFractionLowHealth,
		SettlePnlLimitFactor:       p.SettlePnlLimitFactor,
		SettlePnlLimitWindowSizeTs: p.SettlePnlLimitWindowSizeTs,
	}

	price, err := pm.OraclePrice(oracleFeed, now)
	if err != nil {
		return nil, MarketCreated{}, fmt.Errorf("seed stable price: %w", err)
	}
	pm.StablePriceModel.ResetToPrice(price, now)

	if pm.Bids, err = f.alloc.InitZeroed(Layout{Kind: LayoutBookSide, Capacity: bookCap}); err != nil {
		return nil, MarketCreated{}, fmt.Errorf("allocate bids: %w", err)
	}
	if pm.Asks, err = f.alloc.InitZeroed(Layout{Kind: LayoutBookSide, Capacity: bookCap}); err != nil {
		f.alloc.Release(pm.Bids)
		return nil, MarketCreated{}, fmt.Errorf("allocate asks: %w", err)
	}
	if pm.EventQueue, err = f.alloc.InitZeroed(Layout{Kind: LayoutEventQueue, Capacity: queueCap}); err != nil {
		f.alloc.Release(pm.Bids, pm.Asks)
		return nil, MarketCreated{}, fmt.Errorf("allocate event queue: %w", err)
	}

	m := &Market{
		Perp:   pm,
		Book:   NewOrderbook(bookCap),
		Events: NewEventQueue(queueCap),
	}
	created := MarketCreated{
		Group:           group.ID,
		PerpMarket:      MarketAddress(group.ID, p.PerpMarketIndex),
		PerpMarketIndex: p.PerpMarketIndex,
		BaseDecimals:    p.BaseDecimals,
		BaseLotSize:     p.BaseLotSize,
		QuoteLotSize:    p.QuoteLotSize,
		Oracle:          p.Oracle,
		Name:            p.Name,
		Timestamp:       now,
	}
	return m, created, nil
}

// MarketAddress derives a stable identity for (group, index).
func MarketAddress(group uuid.UUID, index PerpMarketIndex) uuid.UUID {
	return uuid.NewSHA1(group, []byte(fmt.Sprintf("PerpMarket/%d", index)))
}
