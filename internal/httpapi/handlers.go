package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orderflow-engine/internal/broadcast"
	"orderflow-engine/internal/config"
	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/metrics"
	"orderflow-engine/internal/state"
)

// Server wires the thin HTTP adapter surface to the core's registry and
// broadcaster. It owns no market-data logic of its own.
type Server struct {
	cfg         *config.Config
	params      *footprint.Params
	state       *state.AppState
	broadcaster *broadcast.Broadcaster
}

// New constructs a Server.
func New(cfg *config.Config, params *footprint.Params, st *state.AppState, b *broadcast.Broadcaster) *Server {
	return &Server{cfg: cfg, params: params, state: st, broadcaster: b}
}

// Register mounts every adapter-surface route onto e, mirroring the
// teacher's routes.SetupRoutes grouping under /api/v1.
func (s *Server) Register(e *echo.Echo) {
	e.Use(CORS(s.cfg))
	e.Use(RateLimit(s.cfg))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/symbols", s.handleSubscribe)
	api.DELETE("/symbols/:symbol", s.handleUnsubscribe)
	api.GET("/config", s.handleGetConfig)
	api.PUT("/config", s.handlePutConfig)
	api.POST("/token", s.handleTokenRefresh)

	e.GET("/ws", func(c echo.Context) error {
		s.broadcaster.HandleWebSocket(c.Response(), c.Request())
		return nil
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"symbols":    s.state.SymbolCount(),
		"viewers":    s.broadcaster.ViewerCount(),
		"last_reset": s.state.LastResetDate(),
	})
}

type subscribeRequest struct {
	Symbol          string `json:"symbol"`
	SecurityID      uint32 `json:"security_id"`
	ExchangeSegment string `json:"exchange_segment"`
}

func (s *Server) handleSubscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" || req.SecurityID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "symbol and security_id are required"})
	}

	if err := s.state.Subscribe(req.Symbol, req.SecurityID, req.ExchangeSegment); err != nil {
		if err == state.ErrCapacityExceeded {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "max engines exceeded"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"symbol": req.Symbol, "status": "subscribed"})
}

func (s *Server) handleUnsubscribe(c echo.Context) error {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	s.state.Unsubscribe(symbol)
	s.broadcaster.ForgetSymbol(symbol)
	metrics.ForgetSymbol(symbol)
	return c.JSON(http.StatusOK, map[string]string{"symbol": symbol, "status": "unsubscribed"})
}

func (s *Server) handleGetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"candle_seconds":  s.params.BucketMs() / 1000,
		"imbalance_ratio": s.params.ImbalanceRatio(),
	})
}

type configUpdateRequest struct {
	CandleSeconds  *int     `json:"candle_seconds"`
	ImbalanceRatio *float64 `json:"imbalance_ratio"`
}

// handlePutConfig updates the shared footprint.Params in place, per
// SPEC_FULL.md's "read/update CANDLE_SECONDS, IMBALANCE_RATIO at runtime".
// Params guards these two fields with its own lock, since every engine's
// per-tick hot path reads them concurrently with this admin write.
func (s *Server) handlePutConfig(c echo.Context) error {
	var req configUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.CandleSeconds != nil {
		if !footprint.CandleSecondsOptions[*req.CandleSeconds] {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported candle_seconds"})
		}
		s.params.SetBucketMs(int64(*req.CandleSeconds) * 1000)
	}
	if req.ImbalanceRatio != nil {
		if *req.ImbalanceRatio <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "imbalance_ratio must be positive"})
		}
		s.params.SetImbalanceRatio(*req.ImbalanceRatio)
	}

	return s.handleGetConfig(c)
}

type tokenRefreshRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleTokenRefresh(c echo.Context) error {
	var req tokenRefreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token is required"})
	}

	s.state.SetToken(req.Token)
	return c.JSON(http.StatusOK, map[string]string{"status": "token updated"})
}
