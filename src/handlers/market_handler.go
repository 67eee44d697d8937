package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"perp-market/src/apperr"
	"perp-market/src/engine"
	"perp-market/src/exchange"
	"perp-market/src/models"
)

type MarketHandler struct {
	Exchange  *exchange.Exchange
	StartTime time.Time

	defaultDepth int
	maxDepth     int
}

func NewMarketHandler(ex *exchange.Exchange, defaultDepth, maxDepth int) *MarketHandler {
	if defaultDepth <= 0 {
		defaultDepth = 10
	}
	if maxDepth < defaultDepth {
		maxDepth = defaultDepth
	}
	return &MarketHandler{
		Exchange:     ex,
		StartTime:    time.Now(),
		defaultDepth: defaultDepth,
		maxDepth:     maxDepth,
	}
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:  fiber.StatusBadRequest,
	apperr.KindUnsupported: fiber.StatusUnprocessableEntity,
	apperr.KindOracle:      fiber.StatusServiceUnavailable,
	apperr.KindCapacity:    fiber.StatusConflict,
	apperr.KindPermission:  fiber.StatusForbidden,
	apperr.KindNotFound:    fiber.StatusNotFound,
	apperr.KindInvariant:   fiber.StatusInternalServerError,
}

func statusFor(err error) int {
	if code, ok := kindStatus[apperr.KindOf(err)]; ok {
		return code
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	resp := models.ErrorResponse{
		Error: err.Error(),
		Kind:  string(apperr.KindOf(err)),
		Code:  apperr.CodeOf(err),
	}
	// edge case: untagged errors are internal, don't leak them
	if resp.Kind == "" {
		log.Error().
			Err(err).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("Unclassified error")
		resp.Error = "Internal server error"
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string, err error) error {
	log.Warn().
		Err(err).
		Str("ip", c.IP()).
		Str("path", c.Path()).
		Msg(msg)
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
		Error: msg,
		Kind:  string(apperr.KindValidation),
	})
}

func marketIndex(c *fiber.Ctx) (engine.PerpMarketIndex, error) {
	idx, err := strconv.ParseUint(c.Params("index"), 10, 16)
	if err != nil {
		return 0, err
	}
	return engine.PerpMarketIndex(idx), nil
}

func (h *MarketHandler) CreateMarket(c *fiber.Ctx) error {
	var req models.CreateMarketRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request: malformed JSON", err)
	}

	feed := req.OracleFeed.Bytes(int64(h.Exchange.Now()))
	if feed == nil {
		return badRequest(c, "Invalid request: oracle_feed is required", nil)
	}

	pm, created, err := h.Exchange.CreateMarket(c.UserContext(), req.Admin, req.Params, feed)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(models.CreateMarketResponse{
		Market: pm,
		Event:  created,
	})
}

func (h *MarketHandler) ListMarkets(c *fiber.Ctx) error {
	indexes := h.Exchange.Markets()
	markets := make([]engine.PerpMarket, 0, len(indexes))
	for _, idx := range indexes {
		pm, err := h.Exchange.Market(idx)
		if err != nil {
			continue
		}
		markets = append(markets, pm)
	}
	return c.Status(fiber.StatusOK).JSON(markets)
}

func (h *MarketHandler) GetMarket(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	pm, err := h.Exchange.Market(idx)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(pm)
}

func (h *MarketHandler) GetOrderBook(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}

	depth, err := strconv.Atoi(c.Query("depth", strconv.Itoa(h.defaultDepth)))
	if err != nil || depth <= 0 {
		depth = h.defaultDepth
	}
	// edge case: enforce maximum depth limit
	if depth > h.maxDepth {
		depth = h.maxDepth
	}

	snap, err := h.Exchange.Snapshot(idx, depth)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.OrderBookResponse{
		MarketIndex: idx,
		Timestamp:   time.Now().UnixMilli(),
		Bids:        snap.Bids,
		Asks:        snap.Asks,
	})
}

func (h *MarketHandler) PlaceOrder(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	var req models.PlaceOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request: malformed JSON", err)
	}
	req.Side = strings.ToUpper(req.Side)
	req.Type = strings.ToUpper(req.Type)
	req.SelfTrade = strings.ToUpper(req.SelfTrade)

	result, err := h.Exchange.PlaceOrder(c.UserContext(), idx, req.NewOrder())
	if err != nil {
		return writeError(c, err)
	}

	response := models.PlaceOrderResponse{MatchResult: result}
	switch result.Status {
	case engine.StatusAccepted:
		response.Message = "Order added to book"
		return c.Status(fiber.StatusCreated).JSON(response)
	case engine.StatusPartialFill:
		return c.Status(fiber.StatusAccepted).JSON(response)
	default:
		return c.Status(fiber.StatusOK).JSON(response)
	}
}

func (h *MarketHandler) GetOrder(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Invalid order id", err)
	}
	o, err := h.Exchange.Order(idx, engine.OrderID(id))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(o)
}

func (h *MarketHandler) CancelOrder(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	side := engine.Side(strings.ToUpper(c.Params("side")))
	if !side.Valid() {
		return badRequest(c, "Invalid side: must be BID or ASK", nil)
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Invalid order id", err)
	}

	o, err := h.Exchange.CancelOrder(c.UserContext(), idx, side, engine.OrderID(id))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.CancelOrderResponse{
		Order:  o,
		Status: string(engine.StatusCancelled),
	})
}

func (h *MarketHandler) CancelByClientOrderID(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	owner, err := uuid.Parse(c.Params("owner"))
	if err != nil {
		return badRequest(c, "Invalid owner", err)
	}
	cid, err := strconv.ParseUint(c.Params("cid"), 10, 64)
	if err != nil || cid == 0 {
		return badRequest(c, "Invalid client order id", err)
	}

	o, err := h.Exchange.CancelByClientOrderID(c.UserContext(), idx, owner, cid)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.CancelOrderResponse{
		Order:  o,
		Status: string(engine.StatusCancelled),
	})
}

func (h *MarketHandler) UpdateOracle(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	var req models.OracleFeedRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request: malformed JSON", err)
	}
	feed := req.Bytes(int64(h.Exchange.Now()))
	if feed == nil {
		return badRequest(c, "Invalid request: no oracle reading", nil)
	}

	model, err := h.Exchange.UpdateStablePrice(c.UserContext(), idx, feed)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(model)
}

func (h *MarketHandler) UpdateFunding(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	upd, applied, err := h.Exchange.UpdateFunding(c.UserContext(), idx)
	if err != nil {
		return writeError(c, err)
	}
	pm, err := h.Exchange.Market(idx)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.FundingResponse{
		Applied:      applied,
		Update:       upd,
		LongFunding:  pm.LongFunding,
		ShortFunding: pm.ShortFunding,
	})
}

func (h *MarketHandler) PeekEvents(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil || limit < 0 {
		return badRequest(c, "Invalid limit", err)
	}
	if limit == 0 {
		limit = engine.DefaultEventQueueCapacity
	}

	events, err := h.Exchange.PeekEvents(idx, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.EventsResponse{
		MarketIndex: idx,
		Events:      events,
	})
}

func (h *MarketHandler) ConsumeEvents(c *fiber.Ctx) error {
	idx, err := marketIndex(c)
	if err != nil {
		return badRequest(c, "Invalid market index", err)
	}
	var req models.ConsumeEventsRequest
	// edge case: an empty body consumes everything with no settlement
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request: malformed JSON", err)
		}
	}
	if req.Limit < 0 {
		return badRequest(c, "Invalid limit", errors.New("negative limit"))
	}

	res, err := h.Exchange.ConsumeEvents(c.UserContext(), idx, exchange.ConsumeRequest{
		Limit:             req.Limit,
		OpenInterestDelta: req.OpenInterestDelta,
		SettleFees:        req.SettleFees,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *MarketHandler) HealthCheck(c *fiber.Ctx) error {
	st := h.Exchange.Stats()
	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.StartTime).Seconds()),
		Markets:       st.Markets,
		RestingOrders: st.RestingOrders,
		QueuedEvents:  st.QueuedEvents,
	})
}
