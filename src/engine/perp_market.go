package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perp-market/src/oracle"
)

const (
	// QuoteTokenIndex is the primary quote asset every perp market settles in.
	QuoteTokenIndex TokenIndex = 0
	QuoteDecimals              = 6
	MaxNameLen                 = 16

	secondsPerDay = 86400
)

var secondsPerDayDec = decimal.NewFromInt(secondsPerDay)

// PerpMarket is the canonical record of one perpetual futures market.
// Prices on the book are quote lots per base lot; funding and fees are
// in native quote units.
type PerpMarket struct {
	Group            uuid.UUID       `json:"group"`
	SettleTokenIndex TokenIndex      `json:"settle_token_index"`
	PerpMarketIndex  PerpMarketIndex `json:"perp_market_index"`

	GroupInsuranceFund bool   `json:"group_insurance_fund"`
	BaseDecimals       uint8  `json:"base_decimals"`
	Name               string `json:"name"`

	Bids       uuid.UUID `json:"bids"`
	Asks       uuid.UUID `json:"asks"`
	EventQueue uuid.UUID `json:"event_queue"`
	Oracle     uuid.UUID `json:"oracle"`

	OracleConfig     oracle.Config    `json:"oracle_config"`
	StablePriceModel StablePriceModel `json:"stable_price_model"`

	QuoteLotSize int64 `json:"quote_lot_size"`
	BaseLotSize  int64 `json:"base_lot_size"`

	MaintBaseAssetWeight decimal.Decimal `json:"maint_base_asset_weight"`
	InitBaseAssetWeight  decimal.Decimal `json:"init_base_asset_weight"`
	MaintBaseLiabWeight  decimal.Decimal `json:"maint_base_liab_weight"`
	InitBaseLiabWeight   decimal.Decimal `json:"init_base_liab_weight"`
	MaintPnlAssetWeight  decimal.Decimal `json:"maint_pnl_asset_weight"`
	InitPnlAssetWeight   decimal.Decimal `json:"init_pnl_asset_weight"`

	OpenInterest     int64  `json:"open_interest"`
	SeqNum           uint64 `json:"seq_num"`
	RegistrationTime uint64 `json:"registration_time"`

	// MinFunding and MaxFunding are rates per day.
	MinFunding         decimal.Decimal `json:"min_funding"`
	MaxFunding         decimal.Decimal `json:"max_funding"`
	ImpactQuantity     int64           `json:"impact_quantity"`
	LongFunding        decimal.Decimal `json:"long_funding"`
	ShortFunding       decimal.Decimal `json:"short_funding"`
	FundingLastUpdated uint64          `json:"funding_last_updated"`

	LiquidationFee decimal.Decimal `json:"liquidation_fee"`
	MakerFee       decimal.Decimal `json:"maker_fee"`
	TakerFee       decimal.Decimal `json:"taker_fee"`
	FeesAccrued    decimal.Decimal `json:"fees_accrued"`
	FeesSettled    decimal.Decimal `json:"fees_settled"`
	FeePenalty     decimal.Decimal `json:"fee_penalty"`

	SettleFeeFlat              decimal.Decimal `json:"settle_fee_flat"`
	SettleFeeAmountThreshold   decimal.Decimal `json:"settle_fee_amount_threshold"`
	SettleFeeFractionLowHealth decimal.Decimal `json:"settle_fee_fraction_low_health"`
	SettlePnlLimitFactor       decimal.Decimal `json:"settle_pnl_limit_factor"`
	SettlePnlLimitWindowSizeTs uint64          `json:"settle_pnl_limit_window_size_ts"`

	ReduceOnly bool `json:"reduce_only"`
}

// nextSeqNum hands out the id for the next order placed on this market.
func (pm *PerpMarket) nextSeqNum() OrderID {
	pm.SeqNum++
	return OrderID(pm.SeqNum)
}

// NativePriceToLots converts native quote per native base into quote lots per base lot.
func (pm *PerpMarket) NativePriceToLots(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(pm.BaseLotSize)).Div(decimal.NewFromInt(pm.QuoteLotSize)).IntPart()
}

func (pm *PerpMarket) LotsToNativePrice(price int64) decimal.Decimal {
	return decimal.NewFromInt(price).Mul(decimal.NewFromInt(pm.QuoteLotSize)).Div(decimal.NewFromInt(pm.BaseLotSize))
}

// OraclePrice reads the feed and converts it to native quote per native base.
func (pm *PerpMarket) OraclePrice(data []byte, now uint64) (decimal.Decimal, error) {
	p, err := oracle.Read(data, pm.OracleConfig, now)
	if err != nil {
		return decimal.Zero, err
	}
	return uiToNativePrice(p.Value, pm.BaseDecimals), nil
}

func uiToNativePrice(ui decimal.Decimal, baseDecimals uint8) decimal.Decimal {
	return ui.Shift(int32(QuoteDecimals) - int32(baseDecimals))
}

func (pm *PerpMarket) StablePrice() decimal.Decimal {
	return pm.StablePriceModel.StablePrice
}

type FundingUpdate struct {
	Rate    decimal.Decimal `json:"rate"`
	Delta   decimal.Decimal `json:"delta"`
	Elapsed uint64          `json:"elapsed"`
}

// UpdateFunding accrues funding for the time since FundingLastUpdated. The
// daily rate is the premium of the book's impact mid over the stable price,
// clamped to [MinFunding, MaxFunding]. It reports false and changes nothing
// when now is not after the last update.
func (pm *PerpMarket) UpdateFunding(book *Orderbook, now uint64) (FundingUpdate, bool) {
	if now <= pm.FundingLastUpdated {
		return FundingUpdate{}, false
	}

	index := pm.StablePrice()
	rate := decimal.Zero
	bid, hasBid := book.ImpactPrice(SideBid, pm.ImpactQuantity, now)
	ask, hasAsk := book.ImpactPrice(SideAsk, pm.ImpactQuantity, now)
	switch {
	case hasBid && hasAsk && index.IsPositive():
		mid := pm.LotsToNativePrice(bid).Add(pm.LotsToNativePrice(ask)).Div(decimal.NewFromInt(2))
		rate = clamp(mid.Div(index).Sub(decimal.NewFromInt(1)), pm.MinFunding, pm.MaxFunding)
	case hasBid:
		rate = pm.MaxFunding
	case hasAsk:
		rate = pm.MinFunding
	}

	elapsed := now - pm.FundingLastUpdated
	timeFactor := decimal.NewFromInt(int64(elapsed)).Div(secondsPerDayDec)
	delta := index.Mul(rate).Mul(decimal.NewFromInt(pm.BaseLotSize)).Mul(timeFactor)

	pm.LongFunding = pm.LongFunding.Add(delta)
	pm.ShortFunding = pm.ShortFunding.Add(delta)
	pm.FundingLastUpdated = now

	return FundingUpdate{Rate: rate, Delta: delta, Elapsed: elapsed}, true
}

// ChangeOpenInterest applies a delta reported by settlement.
func (pm *PerpMarket) ChangeOpenInterest(delta int64) error {
	next := pm.OpenInterest + delta
	if next < 0 {
		return fmt.Errorf("open interest %d%+d: %w", pm.OpenInterest, delta, ErrNegativeOpenInterest)
	}
	pm.OpenInterest = next
	return nil
}

// SettleFees moves accrued fees to settled.
func (pm *PerpMarket) SettleFees(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("settle %s fees: %w", amount, ErrInvalidFee)
	}
	if pm.FeesSettled.Add(amount).GreaterThan(pm.FeesAccrued) {
		return fmt.Errorf("settled %s + %s > accrued %s: %w", pm.FeesSettled, amount, pm.FeesAccrued, ErrFeesOverSettled)
	}
	pm.FeesSettled = pm.FeesSettled.Add(amount)
	return nil
}

// accrueTakerFee charges the taker fee on a fill of qty base lots at price.
func (pm *PerpMarket) accrueTakerFee(price, qty int64) decimal.Decimal {
	notional := decimal.NewFromInt(price).Mul(decimal.NewFromInt(qty)).Mul(decimal.NewFromInt(pm.QuoteLotSize))
	fee := notional.Mul(pm.TakerFee)
	pm.FeesAccrued = pm.FeesAccrued.Add(fee)
	return fee
}

func (pm *PerpMarket) Clone() *PerpMarket {
	cp := *pm
	return &cp
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
