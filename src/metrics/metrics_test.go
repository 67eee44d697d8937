package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MarketCreated()
		m.OrderPlaced(1, "FILLED", 2, 10)
		m.OperationFailed("PerpPlaceOrder", "ValidationError")
		m.EventsConsumed(1, 3)
		m.MarketState(1, 1, 2, 3, 4, 5)
		m.FundingRate(1, 0.01)
		m.ObserveOperation("PerpPlaceOrder", time.Millisecond)
	})
}

func TestCountersAndGauges(t *testing.T) {
	m := New()
	m.MarketCreated()
	m.OrderPlaced(3, "FILLED", 2, 7)
	m.OrderPlaced(3, "ACCEPTED", 0, 0)
	m.MarketState(3, 4, 5, 6, 9, 101.5)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				values[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[key] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["perp_markets_created_total"])
	assert.Equal(t, 1.0, values["perp_orders_placed_total,market=3,status=FILLED"])
	assert.Equal(t, 2.0, values["perp_fills_total,market=3"])
	assert.Equal(t, 7.0, values["perp_filled_base_lots_total,market=3"])
	assert.Equal(t, 5.0, values["perp_resting_orders,market=3,side=ask"])
	assert.Equal(t, 101.5, values["perp_stable_price,market=3"])
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.MarketCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "perp_markets_created_total 1")
}
