package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"perp-market/src/config"
	"perp-market/src/handlers"
	"perp-market/src/metrics"
	"perp-market/src/middleware"
)

func SetupRoutes(app *fiber.App, cfg *config.Config, h *handlers.MarketHandler, m *metrics.Metrics) *middleware.ServiceAvailability {
	serviceAvailability := middleware.NewServiceAvailability(cfg.Server.MaintenanceMode, cfg.Server.MaxConcurrentRequests)
	app.Use(serviceAvailability.Middleware())
	app.Use(middleware.RequestLogger())

	api := app.Group("/api/v1")

	if !cfg.RateLimit.Disabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		api.Use(rateLimiter.Middleware())
	}

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

	app.Get("/health", h.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	return serviceAvailability
}

// Endpoints lists the registered routes for the startup log.
func Endpoints() []string {
	return []string{
		"POST   /api/v1/markets",
		"GET    /api/v1/markets",
		"GET    /api/v1/markets/:index",
		"GET    /api/v1/markets/:index/orderbook",
		"POST   /api/v1/markets/:index/orders",
		"GET    /api/v1/markets/:index/orders/:id",
		"DELETE /api/v1/markets/:index/orders/:side/:id",
		"DELETE /api/v1/markets/:index/client-orders/:owner/:cid",
		"POST   /api/v1/markets/:index/oracle",
		"POST   /api/v1/markets/:index/funding",
		"GET    /api/v1/markets/:index/events",
		"POST   /api/v1/markets/:index/events/consume",
		"GET    /health",
		"GET    /metrics",
	}
}
