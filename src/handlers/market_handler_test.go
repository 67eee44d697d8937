package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-market/src/engine"
	"perp-market/src/exchange"
	"perp-market/src/governance"
	"perp-market/src/models"
	"perp-market/src/oracle"
)

type stepClock struct{ now atomic.Uint64 }

func (c *stepClock) Now() uint64 { return c.now.Load() }

type testServer struct {
	app   *fiber.App
	ex    *exchange.Exchange
	clock *stepClock
	admin uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{clock: &stepClock{}, admin: uuid.New()}
	s.clock.now.Store(1_700_000_000)
	group := engine.Group{ID: uuid.New(), Admin: s.admin, PerpsSupported: true}
	s.ex = exchange.New(group, governance.NewGate(), exchange.WithClock(s.clock))

	h := NewMarketHandler(s.ex, 2, 5)
	s.app = fiber.New()
	api := s.app.Group("/api/v1")
	api.Post("/markets", h.CreateMarket)
	api.Get("/markets", h.ListMarkets)
	api.Get("/markets/:index", h.GetMarket)
	api.Get("/markets/:index/orderbook", h.GetOrderBook)
	api.Post("/markets/:index/orders", h.PlaceOrder)
	api.Get("/markets/:index/orders/:id", h.GetOrder)
	api.Delete("/markets/:index/orders/:side/:id", h.CancelOrder)
	api.Delete("/markets/:index/client-orders/:owner/:cid", h.CancelByClientOrderID)
	api.Post("/markets/:index/oracle", h.UpdateOracle)
	api.Post("/markets/:index/funding", h.UpdateFunding)
	api.Get("/markets/:index/events", h.PeekEvents)
	api.Post("/markets/:index/events/consume", h.ConsumeEvents)
	s.app.Get("/health", h.HealthCheck)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func createParams(index engine.PerpMarketIndex) engine.CreateParams {
	return engine.CreateParams{
		PerpMarketIndex:      index,
		Name:                 "ETH-PERP",
		Oracle:               uuid.New(),
		OracleConfig:         oracle.DefaultConfig(),
		BaseDecimals:         6,
		QuoteLotSize:         10,
		BaseLotSize:          100,
		MaintBaseAssetWeight: dec("0.9"),
		InitBaseAssetWeight:  dec("0.8"),
		MaintBaseLiabWeight:  dec("1.1"),
		InitBaseLiabWeight:   dec("1.2"),
		MaintPnlAssetWeight:  dec("1"),
		InitPnlAssetWeight:   dec("1"),
		LiquidationFee:       dec("0.05"),
		MakerFee:             dec("0"),
		TakerFee:             dec("0.001"),
		MinFunding:           dec("-0.05"),
		MaxFunding:           dec("0.05"),
		ImpactQuantity:       10,
		SettlePnlLimitFactor: dec("-1"),
		BookSideCapacity:     16,
		EventQueueCapacity:   16,
	}
}

func (s *testServer) createMarket(t *testing.T, index engine.PerpMarketIndex) {
	t.Helper()
	code, body := s.do(t, "POST", "/api/v1/markets", models.CreateMarketRequest{
		Admin:      s.admin,
		Params:     createParams(index),
		OracleFeed: models.OracleFeedRequest{Stub: &models.StubFeed{Mantissa: 100}},
	})
	require.Equal(t, fiber.StatusCreated, code, string(body))
}

func decodeError(t *testing.T, body []byte) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestCreateMarket(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, "POST", "/api/v1/markets", models.CreateMarketRequest{
		Admin:      s.admin,
		Params:     createParams(3),
		OracleFeed: models.OracleFeedRequest{Stub: &models.StubFeed{Mantissa: 100}},
	})
	require.Equal(t, fiber.StatusCreated, code, string(body))

	var resp models.CreateMarketResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, engine.PerpMarketIndex(3), resp.Market.PerpMarketIndex)
	assert.Equal(t, "ETH-PERP", resp.Event.Name)
	assert.Equal(t, engine.MarketAddress(s.ex.Group().ID, 3), resp.Event.PerpMarket)
	assert.True(t, resp.Market.StablePrice().Equal(dec("100")), resp.Market.StablePrice().String())

	code, body = s.do(t, "GET", "/api/v1/markets/3", nil)
	require.Equal(t, fiber.StatusOK, code)
	var pm engine.PerpMarket
	require.NoError(t, json.Unmarshal(body, &pm))
	assert.Equal(t, uint64(1_700_000_000), pm.RegistrationTime)

	code, body = s.do(t, "GET", "/api/v1/markets", nil)
	require.Equal(t, fiber.StatusOK, code)
	var all []engine.PerpMarket
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 1)
}

func TestCreateMarketErrors(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)

	tests := []struct {
		name   string
		req    models.CreateMarketRequest
		status int
		code   string
	}{
		{
			name:   "index in use",
			req:    models.CreateMarketRequest{Admin: s.admin, Params: createParams(0), OracleFeed: models.OracleFeedRequest{Stub: &models.StubFeed{Mantissa: 100}}},
			status: fiber.StatusBadRequest,
			code:   "MarketExists",
		},
		{
			name:   "not admin",
			req:    models.CreateMarketRequest{Admin: uuid.New(), Params: createParams(1), OracleFeed: models.OracleFeedRequest{Stub: &models.StubFeed{Mantissa: 100}}},
			status: fiber.StatusForbidden,
			code:   "NotAdmin",
		},
		{
			name:   "unsupported settle token",
			req:    models.CreateMarketRequest{Admin: s.admin, Params: func() engine.CreateParams { p := createParams(1); p.SettleTokenIndex = 2; return p }(), OracleFeed: models.OracleFeedRequest{Stub: &models.StubFeed{Mantissa: 100}}},
			status: fiber.StatusUnprocessableEntity,
			code:   "UnsupportedSettlementToken",
		},
		{
			name:   "garbage oracle",
			req:    models.CreateMarketRequest{Admin: s.admin, Params: createParams(1), OracleFeed: models.OracleFeedRequest{Feed: []byte("not an oracle")}},
			status: fiber.StatusServiceUnavailable,
			code:   "InvalidOracle",
		},
		{
			name:   "missing oracle",
			req:    models.CreateMarketRequest{Admin: s.admin, Params: createParams(1)},
			status: fiber.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, "POST", "/api/v1/markets", tt.req)
			assert.Equal(t, tt.status, code, string(body))
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeError(t, body).Code)
			}
		})
	}

	assert.Equal(t, []engine.PerpMarketIndex{0}, s.ex.Markets())
}

func TestMarketNotFoundAndBadIndex(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, "GET", "/api/v1/markets/7", nil)
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "MarketNotFound", decodeError(t, body).Code)

	code, _ = s.do(t, "GET", "/api/v1/markets/70000", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = s.do(t, "GET", "/api/v1/markets/abc/orderbook", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func order(owner uuid.UUID, side string, price, qty int64) models.PlaceOrderRequest {
	return models.PlaceOrderRequest{Side: side, Type: "limit", Owner: owner, Price: price, Quantity: qty}
}

func TestPlaceOrderStatusCodes(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)
	maker, taker := uuid.New(), uuid.New()

	code, body := s.do(t, "POST", "/api/v1/markets/0/orders", order(maker, "ask", 1000, 10))
	require.Equal(t, fiber.StatusCreated, code, string(body))
	var placed models.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(body, &placed))
	assert.Equal(t, engine.StatusAccepted, placed.Status)
	assert.Equal(t, "Order added to book", placed.Message)
	assert.Equal(t, engine.OrderID(1), placed.OrderID)

	code, body = s.do(t, "POST", "/api/v1/markets/0/orders", order(taker, "bid", 1000, 4))
	require.Equal(t, fiber.StatusOK, code, string(body))
	var filled models.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(body, &filled))
	assert.Equal(t, engine.StatusFilled, filled.Status)
	require.Len(t, filled.Fills, 1)
	assert.Equal(t, int64(4), filled.Fills[0].Quantity)

	code, body = s.do(t, "POST", "/api/v1/markets/0/orders", order(taker, "bid", 1000, 10))
	require.Equal(t, fiber.StatusAccepted, code, string(body))
	var partial models.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(body, &partial))
	assert.Equal(t, engine.StatusPartialFill, partial.Status)
	assert.Equal(t, int64(6), partial.FilledQuantity)
	assert.Equal(t, int64(4), partial.PostedQuantity)
}

func TestPlaceOrderRejections(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)

	code, body := s.do(t, "POST", "/api/v1/markets/0/orders", order(uuid.New(), "sideways", 1000, 1))
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "InvalidOrder", decodeError(t, body).Code)

	code, _ = s.do(t, "POST", "/api/v1/markets/0/orders", order(uuid.New(), "bid", 1000, 0))
	assert.Equal(t, fiber.StatusBadRequest, code)

	req := httptest.NewRequest("POST", "/api/v1/markets/0/orders", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	s.ex.Gate().Disable(governance.OpPerpPlaceOrder)
	code, body = s.do(t, "POST", "/api/v1/markets/0/orders", order(uuid.New(), "bid", 1000, 1))
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Equal(t, "OperationDisabled", decodeError(t, body).Code)
}

func TestOrderBookDepth(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)
	owner := uuid.New()
	for i := int64(0); i < 8; i++ {
		code, body := s.do(t, "POST", "/api/v1/markets/0/orders", order(owner, "bid", 900-i, 1))
		require.Equal(t, fiber.StatusCreated, code, string(body))
	}

	depthOf := func(query string) (int, int64) {
		code, body := s.do(t, "GET", "/api/v1/markets/0/orderbook"+query, nil)
		require.Equal(t, fiber.StatusOK, code)
		var ob models.OrderBookResponse
		require.NoError(t, json.Unmarshal(body, &ob))
		return len(ob.Bids), ob.Bids[0].Price
	}

	n, best := depthOf("")
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(900), best)
	n, _ = depthOf("?depth=4")
	assert.Equal(t, 4, n)
	n, _ = depthOf("?depth=100")
	assert.Equal(t, 5, n)
	n, _ = depthOf("?depth=-3")
	assert.Equal(t, 2, n)
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)
	owner := uuid.New()

	code, _ := s.do(t, "POST", "/api/v1/markets/0/orders", order(owner, "bid", 900, 3))
	require.Equal(t, fiber.StatusCreated, code)

	code, body := s.do(t, "GET", "/api/v1/markets/0/orders/1", nil)
	require.Equal(t, fiber.StatusOK, code)
	var o engine.Order
	require.NoError(t, json.Unmarshal(body, &o))
	assert.Equal(t, owner, o.Owner)

	code, _ = s.do(t, "DELETE", "/api/v1/markets/0/orders/up/1", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body = s.do(t, "DELETE", "/api/v1/markets/0/orders/ask/1", nil)
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "OrderNotFound", decodeError(t, body).Code)

	code, body = s.do(t, "DELETE", "/api/v1/markets/0/orders/bid/1", nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	var resp models.CancelOrderResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "CANCELLED", resp.Status)
	assert.Equal(t, int64(3), resp.Order.Quantity)

	code, _ = s.do(t, "GET", "/api/v1/markets/0/orders/1", nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestCancelByClientOrderID(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)
	owner := uuid.New()

	req := order(owner, "ask", 1100, 2)
	req.ClientOrderID = 42
	code, _ := s.do(t, "POST", "/api/v1/markets/0/orders", req)
	require.Equal(t, fiber.StatusCreated, code)

	path := fmt.Sprintf("/api/v1/markets/0/client-orders/%s/42", owner)
	code, body := s.do(t, "DELETE", path, nil)
	require.Equal(t, fiber.StatusOK, code, string(body))

	code, _ = s.do(t, "DELETE", path, nil)
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = s.do(t, "DELETE", fmt.Sprintf("/api/v1/markets/0/client-orders/%s/0", owner), nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
	code, _ = s.do(t, "DELETE", "/api/v1/markets/0/client-orders/nobody/42", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestUpdateOracle(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)
	s.clock.now.Add(1)

	code, body := s.do(t, "POST", "/api/v1/markets/0/oracle", models.OracleFeedRequest{
		Pyth: &models.PythFeed{Expo: -2, Price: 10050, Conf: 1},
	})
	require.Equal(t, fiber.StatusOK, code, string(body))
	var model engine.StablePriceModel
	require.NoError(t, json.Unmarshal(body, &model))
	assert.True(t, model.StablePrice.GreaterThan(dec("100")), model.StablePrice.String())
	assert.Equal(t, s.clock.Now(), model.LastUpdateTimestamp)

	halted := false
	code, body = s.do(t, "POST", "/api/v1/markets/0/oracle", models.OracleFeedRequest{
		Pyth: &models.PythFeed{Expo: -2, Price: 10050, Conf: 1, Trading: &halted},
	})
	assert.Equal(t, fiber.StatusServiceUnavailable, code, string(body))

	code, _ = s.do(t, "POST", "/api/v1/markets/0/oracle", models.OracleFeedRequest{})
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestUpdateFunding(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)

	code, body := s.do(t, "POST", "/api/v1/markets/0/funding", nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	var resp models.FundingResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.Applied)

	s.clock.now.Add(3600)
	code, body = s.do(t, "POST", "/api/v1/markets/0/funding", nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Applied)
	assert.Equal(t, uint64(3600), resp.Update.Elapsed)
	// empty book: no premium
	assert.True(t, resp.Update.Rate.IsZero())
	assert.True(t, resp.LongFunding.Equal(resp.ShortFunding))
}

func TestEventsPeekAndConsume(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)
	maker, taker := uuid.New(), uuid.New()

	s.do(t, "POST", "/api/v1/markets/0/orders", order(maker, "ask", 1000, 5))
	code, _ := s.do(t, "POST", "/api/v1/markets/0/orders", order(taker, "bid", 1000, 5))
	require.Equal(t, fiber.StatusOK, code)

	code, body := s.do(t, "GET", "/api/v1/markets/0/events", nil)
	require.Equal(t, fiber.StatusOK, code)
	var peek models.EventsResponse
	require.NoError(t, json.Unmarshal(body, &peek))
	require.Len(t, peek.Events, 1)
	assert.Equal(t, engine.EventFill, peek.Events[0].Kind)
	assert.True(t, peek.Events[0].MakerOut)

	code, body = s.do(t, "POST", "/api/v1/markets/0/events/consume", models.ConsumeEventsRequest{
		OpenInterestDelta: 5,
		SettleFees:        dec("10"),
	})
	require.Equal(t, fiber.StatusOK, code, string(body))
	var res exchange.ConsumeResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Len(t, res.Events, 1)
	assert.Equal(t, int64(5), res.OpenInterest)
	assert.True(t, res.FeesSettled.Equal(dec("10")))

	code, body = s.do(t, "POST", "/api/v1/markets/0/events/consume", models.ConsumeEventsRequest{OpenInterestDelta: -6})
	assert.Equal(t, fiber.StatusInternalServerError, code)
	assert.Equal(t, "NegativeOpenInterest", decodeError(t, body).Code)

	code, body = s.do(t, "POST", "/api/v1/markets/0/events/consume", nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Empty(t, res.Events)
	assert.Equal(t, int64(5), res.OpenInterest)

	code, _ = s.do(t, "GET", "/api/v1/markets/0/events?limit=-1", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	s.createMarket(t, 0)
	s.createMarket(t, 1)
	s.do(t, "POST", "/api/v1/markets/1/orders", order(uuid.New(), "bid", 900, 1))

	code, body := s.do(t, "GET", "/health", nil)
	require.Equal(t, fiber.StatusOK, code)
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 2, resp.Markets)
	assert.Equal(t, 1, resp.RestingOrders)
	assert.Zero(t, resp.QueuedEvents)
}
