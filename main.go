package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"perp-market/src/config"
	"perp-market/src/exchange"
	"perp-market/src/governance"
	"perp-market/src/handlers"
	"perp-market/src/logger"
	"perp-market/src/metrics"
	"perp-market/src/models"
	"perp-market/src/routes"
	"perp-market/src/storage"
)

func configPath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		logger.InitLogger(logger.Options{})
		log := logger.GetLogger()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.InitLogger(logger.Options{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Format: cfg.Logging.Format,
	})
	log := logger.GetLogger()

	log.Info().Msg("Initializing Perp Market Engine")

	disabled, err := cfg.DisabledOps()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid governance configuration")
	}
	gate := governance.NewGate(disabled...)
	m := metrics.New()

	opts := []exchange.Option{exchange.WithMetrics(m)}
	var store *storage.EventStore
	if cfg.Storage.Path != "" {
		store, err = storage.NewEventStore(cfg.Storage.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open event store")
		}
		opts = append(opts, exchange.WithRecorder(store))

		archived, err := store.LoadMarketsCreated(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read event store")
		}
		log.Info().
			Str("path", cfg.Storage.Path).
			Int("archived_markets", len(archived)).
			Msg("Event store opened")
	}

	group := cfg.EngineGroup()
	ex := exchange.New(group, gate, opts...)

	for _, mc := range cfg.Markets {
		_, _, err := ex.CreateMarket(context.Background(), group.Admin, mc.Params(), mc.OracleFeed(ex.Now()))
		if err != nil {
			log.Fatal().
				Err(err).
				Uint16("market_index", mc.Index).
				Str("name", mc.Name).
				Msg("Failed to create configured market")
		}
	}

	marketHandler := handlers.NewMarketHandler(ex, cfg.OrderBook.DefaultDepth, cfg.OrderBook.MaxDepth)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(models.ErrorResponse{
				Error: err.Error(),
			})
		},
	})

	app.Use(recover.New())
	routes.SetupRoutes(app, cfg, marketHandler, m)

	port := ":" + cfg.Server.Port

	serverError := make(chan error, 1)

	go func() {
		if err := app.Listen(port); err != nil {
			// edge case: ignore shutdown errors, only report real errors
			if err.Error() != "server is shutting down" {
				serverError <- err
			}
		}
	}()

	select {
	case err := <-serverError:
		log.Fatal().
			Err(err).
			Str("port", port).
			Str("hint", "Port may be already in use. Try: PORT=3000 go run main.go").
			Msg("Server failed to start")
	default:
		log.Info().
			Str("port", port).
			Str("group", group.ID.String()).
			Int("markets", len(ex.Markets())).
			Msg("Perp Market Engine started")

		log.Info().
			Strs("endpoints", routes.Endpoints()).
			Msg("API endpoints registered")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	log.Info().Msg("Received shutdown signal, shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Dur("timeout", cfg.Server.ShutdownTimeout).
				Msg("Timeout exceeded, shutting down...")
		} else {
			log.Error().
				Err(err).
				Msg("Error during shutdown")
		}
	} else {
		log.Info().Msg("Shutdown complete")
	}

	if store != nil {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing event store")
		}
	}

	logger.CloseLogger()
}
