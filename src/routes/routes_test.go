package routes

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-market/src/config"
	"perp-market/src/exchange"
	"perp-market/src/governance"
	"perp-market/src/handlers"
	"perp-market/src/metrics"
)

func newApp(t *testing.T, cfg *config.Config) *fiber.App {
	t.Helper()
	m := metrics.New()
	group := cfg.EngineGroup()
	ex := exchange.New(group, governance.NewGate(), exchange.WithMetrics(m))

	app := fiber.New()
	SetupRoutes(app, cfg, handlers.NewMarketHandler(ex, cfg.OrderBook.DefaultDepth, cfg.OrderBook.MaxDepth), m)
	return app
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := config.Default()
	m := metrics.New()
	group := cfg.EngineGroup()
	ex := exchange.New(group, governance.NewGate(), exchange.WithMetrics(m))

	app := fiber.New()
	SetupRoutes(app, cfg, handlers.NewMarketHandler(ex, 10, 100), m)

	_, _, err := ex.CreateMarket(context.Background(), uuid.New(), config.MarketConfig{}.Params(), nil)
	require.Error(t, err)

	code, body := get(t, app, "/metrics")
	require.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, "perp_operation_errors_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestMaintenanceKeepsHealthReachable(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaintenanceMode = true
	app := newApp(t, cfg)

	code, _ := get(t, app, "/api/v1/markets")
	assert.Equal(t, fiber.StatusServiceUnavailable, code)

	code, body := get(t, app, "/health")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"status":"healthy"`)

	code, _ = get(t, app, "/metrics")
	assert.Equal(t, fiber.StatusOK, code)
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	app := newApp(t, cfg)

	code, _ := get(t, app, "/api/v1/markets")
	assert.Equal(t, fiber.StatusOK, code)
	code, _ = get(t, app, "/api/v1/markets")
	assert.Equal(t, fiber.StatusTooManyRequests, code)

	for i := 0; i < 3; i++ {
		code, _ = get(t, app, "/health")
		assert.Equal(t, fiber.StatusOK, code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Disabled = true
	cfg.RateLimit.Burst = 1
	app := newApp(t, cfg)

	for i := 0; i < 5; i++ {
		code, _ := get(t, app, "/api/v1/markets/0")
		assert.Equal(t, fiber.StatusNotFound, code)
	}
}

func TestEndpointsListed(t *testing.T) {
	assert.Contains(t, Endpoints(), "POST   /api/v1/markets/:index/events/consume")
	assert.Contains(t, Endpoints(), "GET    /metrics")
}
