package api

import (
	"context"
	"strconv"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	"CandleSync/internal/usecase"
	"CandleSync/pkg/cache"
	xhttp "CandleSync/pkg/http"
	xlogger "CandleSync/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CandlesEchoHandler serves the read side of the pipeline: candle ranges
// and the newest indicator set per pair.
type CandlesEchoHandler struct {
	logger     *xlogger.Logger
	store      domrepo.CandleStore
	cacheStore cache.Service
	source     string
}

func NewCandlesEchoHandler(logger *xlogger.Logger, store domrepo.CandleStore, cacheStore cache.Service, source string) *CandlesEchoHandler {
	return &CandlesEchoHandler{logger: logger, store: store, cacheStore: cacheStore, source: source}
}

func (h *CandlesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/indicators/latest", h.LatestIndicators)
	e.GET("/healthz", h.Health)
}

func (h *CandlesEchoHandler) Candles(c echo.Context) error {
	instrument := c.QueryParam("instrument")
	if instrument == "" {
		return xhttp.BadRequestResponse(c, "instrument required")
	}
	tf := domrepo.NormalizeTimeframe(c.QueryParam("tf"))

	n := 100
	if raw := c.QueryParam("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 5000 {
			return xhttp.BadRequestResponse(c, "n must be in 1..5000")
		}
		n = v
	}

	candles, err := h.store.LatestCandles(c.Request().Context(), h.source, instrument, tf, n)
	if err != nil {
		h.logger.Error("candles query error", xlogger.Error(err))
		return xhttp.ServiceUnavailableResponse(c, "store unavailable")
	}
	return xhttp.SuccessResponse(c, candles)
}

// LatestIndicators is cache-first: the scheduler refreshes the cached set
// after each cycle, so most reads never touch the store.
func (h *CandlesEchoHandler) LatestIndicators(c echo.Context) error {
	instrument := c.QueryParam("instrument")
	if instrument == "" {
		return xhttp.BadRequestResponse(c, "instrument required")
	}
	tf := domrepo.NormalizeTimeframe(c.QueryParam("tf"))
	ctx := c.Request().Context()

	if h.cacheStore != nil {
		var cached models.IndicatorSet
		key := usecase.IndicatorCacheKey(h.source, instrument, tf)
		if err := h.cacheStore.Get(ctx, key, &cached); err == nil {
			c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
			return xhttp.SuccessResponse(c, &cached)
		}
	}

	set, err := h.store.LatestIndicators(ctx, h.source, instrument, tf)
	if err != nil {
		h.logger.Error("indicators query error", xlogger.Error(err))
		return xhttp.ServiceUnavailableResponse(c, "store unavailable")
	}
	if set == nil {
		return xhttp.NotFoundResponse(c, "no indicators yet")
	}
	return xhttp.SuccessResponse(c, set)
}

func (h *CandlesEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Health(ctx); err != nil {
		return xhttp.ServiceUnavailableResponse(c, "store unreachable")
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}
