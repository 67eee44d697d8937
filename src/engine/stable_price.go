package engine

import (
	"github.com/shopspring/decimal"
)

// DefaultStableGrowthLimit allows the stable price to move 0.03% per second.
var DefaultStableGrowthLimit = decimal.RequireFromString("0.0003")

// StablePriceModel tracks a smoothed price that follows the oracle but
// cannot move faster than StableGrowthLimit (a fraction per second).
type StablePriceModel struct {
	StablePrice         decimal.Decimal `json:"stable_price"`
	LastUpdateTimestamp uint64          `json:"last_update_timestamp"`
	StableGrowthLimit   decimal.Decimal `json:"stable_growth_limit"`
}

func NewStablePriceModel(growthLimit decimal.Decimal) StablePriceModel {
	return StablePriceModel{StablePrice: decimal.Zero, StableGrowthLimit: growthLimit}
}

// ResetToPrice sets the state unconditionally. Only market creation uses it.
func (m *StablePriceModel) ResetToPrice(price decimal.Decimal, now uint64) {
	m.StablePrice = price
	m.LastUpdateTimestamp = now
}

// Update moves the stable price toward oraclePrice by at most
// StablePrice * StableGrowthLimit * elapsed seconds. Calls with a timestamp
// older than the last update leave the state untouched.
func (m *StablePriceModel) Update(oraclePrice decimal.Decimal, now uint64) decimal.Decimal {
	if now < m.LastUpdateTimestamp {
		return m.StablePrice
	}
	if !m.StablePrice.IsPositive() {
		m.ResetToPrice(oraclePrice, now)
		return m.StablePrice
	}

	dt := decimal.NewFromInt(int64(now - m.LastUpdateTimestamp))
	maxMove := m.StablePrice.Mul(m.StableGrowthLimit).Mul(dt)
	lower := m.StablePrice.Sub(maxMove)
	upper := m.StablePrice.Add(maxMove)

	switch {
	case oraclePrice.LessThan(lower):
		m.StablePrice = lower
	case oraclePrice.GreaterThan(upper):
		m.StablePrice = upper
	default:
		m.StablePrice = oraclePrice
	}
	m.LastUpdateTimestamp = now
	return m.StablePrice
}
