package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/disciple-tools/homescreen-apps/internal/version"
)

const healthTimeout = 2 * time.Second

// Pinger checks that a dependency is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingHandler serves /ping and HEAD /health. Both report 503 while the database is
// unreachable.
type PingHandler struct {
	db     Pinger
	logger *slog.Logger
}

// PingResponse is the /ping body.
type PingResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

// NewPingHandler creates a ping handler. db may be nil, in which case only liveness is
// reported.
func NewPingHandler(log *slog.Logger, db Pinger) *PingHandler {
	return &PingHandler{db: db, logger: log.With(slog.String("handler", "ping"))}
}

// Register mounts GET /ping and HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) checkDB(ctx context.Context) string {
	if h.db == nil {
		return "unconfigured"
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("database ping failed", slog.Any("error", err))
		return "unreachable"
	}
	return "ok"
}

// Ping godoc
// @Summary Ping
// @Description Reports the build version and database reachability
// @Tags health
// @Success 200 {object} PingResponse
// @Failure 503 {object} PingResponse
// @Router /ping [get]
func (h *PingHandler) Ping(c echo.Context) error {
	out := PingResponse{Status: "ok", Version: version.Version, Database: h.checkDB(c.Request().Context())}
	if out.Database == "unreachable" {
		out.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, out)
	}
	return c.JSON(http.StatusOK, out)
}

// PingHead godoc
// @Summary Health check
// @Description Returns 200 No Content while the database is reachable
// @Tags health
// @Success 200
// @Failure 503
// @Router /health [head]
func (h *PingHandler) PingHead(c echo.Context) error {
	if h.checkDB(c.Request().Context()) == "unreachable" {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
