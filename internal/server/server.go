// Package server provides the HTTP server and Echo setup for the homescreen apps.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/disciple-tools/homescreen-apps/internal/auth"
	"github.com/disciple-tools/homescreen-apps/internal/config"
)

// limiterExpiry drops idle per-IP limiters.
const limiterExpiry = 3 * time.Minute

// Server is the HTTP server (Echo) with JWT middleware and registered handlers.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// Handler registers routes on the Echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// Options configures NewServer. Root is the URL namespace of the magic-link apps.
type Options struct {
	Addr      string
	JWTSecret string
	Root      string
	RateLimit config.RateLimitConfig
}

// NewServer builds the Echo server with recovery, request ids, request logging, JWT auth
// for session routes and per-IP rate limiting for magic-link routes.
func NewServer(log *slog.Logger, opts Options, handlers ...Handler) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	public := PublicPaths(opts.Root)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(rateLimiter(opts.RateLimit, public.MagicLink))
	e.Use(auth.JWTMiddleware(opts.JWTSecret, public.Skip))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: log.With(slog.String("component", "server")),
	}
}

// Paths classifies request paths for the auth and rate limit middleware.
type Paths struct {
	prefix string
}

// PublicPaths returns the classifier for apps mounted under root.
func PublicPaths(root string) Paths {
	return Paths{prefix: "/" + strings.Trim(root, "/") + "/v1/"}
}

// MagicLink reports whether the path is authenticated by a magic link key.
func (p Paths) MagicLink(path string) bool {
	rest, ok := strings.CutPrefix(path, p.prefix)
	if !ok {
		return false
	}
	if strings.HasPrefix(rest, "my_contacts/") {
		return true
	}
	id, ok := strings.CutPrefix(rest, "templates/")
	return ok && id != ""
}

// Skip reports whether the request bypasses JWT authentication.
func (p Paths) Skip(c echo.Context) bool {
	path := c.Request().URL.Path
	switch path {
	case "/ping", "/health", "/auth/login", "/api/swagger.json":
		return true
	}
	if strings.HasPrefix(path, "/api/docs") {
		return true
	}
	return p.MagicLink(path)
}

func rateLimiter(cfg config.RateLimitConfig, limited func(string) bool) echo.MiddlewareFunc {
	perSecond := cfg.PerSecond
	if perSecond <= 0 {
		perSecond = config.DefaultRatePerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = config.DefaultRateBurst
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool { return !limited(c.Request().URL.Path) },
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: limiterExpiry,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client").SetInternal(err)
		},
		DenyHandler: func(_ echo.Context, _ string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests").SetInternal(err)
		},
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server (blocks until shutdown).
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Stop gracefully shuts down the server using the given context.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
