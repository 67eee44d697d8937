package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request at info level. Market
// operations log their own outcome, so this stays about transport.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if zerolog.GlobalLevel() > zerolog.InfoLevel {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		lvl := zerolog.InfoLevel
		if status >= fiber.StatusInternalServerError {
			lvl = zerolog.ErrorLevel
		}
		log.WithLevel(lvl).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Int("status", status).
			Dur("latency", latency).
			Int("bytes_in", len(c.Body())).
			Int("bytes_out", len(c.Response().Body())).
			Msg("HTTP request")

		return err
	}
}
