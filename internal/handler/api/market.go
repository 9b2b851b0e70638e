package api

import (
	"net/http"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	"TickRelay/internal/hub"
	"TickRelay/internal/service/forecast"
	"TickRelay/internal/service/whale"
	"TickRelay/internal/usecase"
	xhttp "TickRelay/pkg/http"
	xlogger "TickRelay/pkg/logger"
	"TickRelay/pkg/util"

	"github.com/labstack/echo/v4"
)

// MarketHandler exposes the relay's read surface plus the subscriber
// WebSocket endpoint.
type MarketHandler struct {
	logger    *xlogger.Logger
	candles   *usecase.CandlesUseCase
	relay     *usecase.Relay
	detector  *whale.Detector
	forecasts *forecast.Client
	hub       *hub.Hub
	stream    drepo.MarketStream
}

func NewMarketHandler(
	logger *xlogger.Logger,
	candles *usecase.CandlesUseCase,
	relay *usecase.Relay,
	detector *whale.Detector,
	forecasts *forecast.Client,
	h *hub.Hub,
	stream drepo.MarketStream,
) *MarketHandler {
	return &MarketHandler{
		logger:    logger,
		candles:   candles,
		relay:     relay,
		detector:  detector,
		forecasts: forecasts,
		hub:       h,
		stream:    stream,
	}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles/:symbol", h.Candles)
	g.GET("/whales", h.Whales)
	g.GET("/price/:symbol", h.Price)
	g.GET("/predict/:symbol", h.Predict)
	g.GET("/health", h.Health)

	e.GET("/ws", h.hub.Handle)
}

func (h *MarketHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	iv := drepo.Interval(req.Interval)
	from := util.ParseTimeDefault(req.From, time.Time{})
	to := util.ParseTimeDefault(req.To, time.Time{})
	if !from.IsZero() || !to.IsZero() {
		from, to = util.AlignFromTo(from, to, iv.Duration())
	}

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:   req.Symbol,
		Interval: iv,
		Limit:    req.Limit,
		From:     from,
		To:       to,
	})
	if err != nil {
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketHandler) Whales(c echo.Context) error {
	req := &models.WhalesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var events []models.AnomalyEvent
	if req.Symbol != "" {
		events = h.detector.BySymbol(req.Symbol, req.Limit)
	} else {
		events = h.detector.Recent(req.Limit)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func (h *MarketHandler) Price(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	u, ok := h.relay.LastUpdate(req.Symbol)
	if !ok {
		return xhttp.NotFoundResponse(c, map[string]string{"symbol": req.Symbol})
	}
	return xhttp.SuccessResponse(c, u)
}

func (h *MarketHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.forecasts == nil {
		return xhttp.AppErrorResponse(c,
			xhttp.UnavailableError("ERR_FORECAST_DISABLED", "forecasting is not configured"))
	}

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:   req.Symbol,
		Interval: drepo.I1h,
		Limit:    200,
	})
	if err != nil {
		h.logger.Error("predict candles error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	closes := make([]float64, 0, len(res.Candles))
	for _, cd := range res.Candles {
		closes = append(closes, cd.Close)
	}

	p, err := h.forecasts.Predict(c.Request().Context(), req.Symbol, closes, req.Horizon)
	if err != nil {
		h.logger.Error("forecast error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_FORECAST_UPSTREAM", "", "forecast unavailable", http.StatusBadGateway))
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *MarketHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":      "ok",
		"upstream":    h.stream.IsConnected(),
		"subscribers": h.hub.Subscribers(),
		"symbols":     h.relay.Symbols(),
	})
}
