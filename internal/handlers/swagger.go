package handlers

// @title Homescreen Apps API
// @version 1.0.0
// @description Dispatcher, my-contacts and template magic links for Disciple.Tools.
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

import (
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
)

//go:generate go run github.com/swaggo/swag/cmd/swag@latest init -g swagger.go -o ../../docs --parseDependency --parseInternal

// SwaggerSpecPath is where swag writes the generated document, relative to the working
// directory.
const SwaggerSpecPath = "docs/swagger.json"

// SwaggerHandler serves the generated OpenAPI document and a Swagger UI page.
type SwaggerHandler struct {
	path   string
	once   sync.Once
	spec   []byte
	err    error
	logger *slog.Logger
}

// NewSwaggerHandler serves the document at path, SwaggerSpecPath when empty.
func NewSwaggerHandler(log *slog.Logger, path string) *SwaggerHandler {
	if path == "" {
		path = SwaggerSpecPath
	}
	return &SwaggerHandler{path: path, logger: log.With(slog.String("handler", "swagger"))}
}

func (h *SwaggerHandler) Register(e *echo.Echo) {
	e.GET("/api/swagger.json", h.Spec)
	e.GET("/api/docs", h.UI)
	e.GET("/api/docs/", h.UI)
}

// Spec returns the generated document. It is read once; a missing document means
// go generate was not run and yields 500.
func (h *SwaggerHandler) Spec(c echo.Context) error {
	h.once.Do(func() {
		h.spec, h.err = os.ReadFile(h.path)
		if h.err != nil {
			h.logger.Warn("swagger document unavailable", slog.String("path", h.path), slog.Any("error", h.err))
		}
	})
	if h.err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "swagger document not generated")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, h.spec)
}

func (h *SwaggerHandler) UI(c echo.Context) error {
	return c.HTML(http.StatusOK, swaggerUIHTML)
}

const swaggerUIHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width,initial-scale=1" />
    <title>Homescreen Apps Swagger UI</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({
          url: '/api/swagger.json',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`
