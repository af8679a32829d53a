package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/templates"
)

// TemplatesHandler lists templates and runs them for magic-link owners.
type TemplatesHandler struct {
	registry *templates.Registry
	runner   *templates.Runner
	links    Verifier
	prefix   string
	logger   *slog.Logger
}

// CreateRequest submits a create-record template.
type CreateRequest struct {
	Parts  magiclink.Parts            `json:"parts"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// CreateResponse is the created record.
type CreateResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"ID"`
	Name    string `json:"name"`
}

// NewTemplatesHandler creates the templates handler for apps under root.
func NewTemplatesHandler(log *slog.Logger, registry *templates.Registry, runner *templates.Runner, links Verifier, root string) *TemplatesHandler {
	return &TemplatesHandler{
		registry: registry,
		runner:   runner,
		links:    links,
		prefix:   apiPrefix(root) + "/templates",
		logger:   log.With(slog.String("handler", "templates")),
	}
}

// Register mounts the template routes.
func (h *TemplatesHandler) Register(e *echo.Echo) {
	e.GET(h.prefix, h.List)
	e.POST(h.prefix+"/:id/list", h.Run)
	e.POST(h.prefix+"/:id/create", h.Create)
}

// List godoc
// @Summary List templates
// @Description Returns the enabled templates grouped by post type
// @Tags templates
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 401 {object} ErrorResponse
// @Router /homescreen_apps/v1/templates [get]
func (h *TemplatesHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"templates": h.registry.All()})
}

// Run godoc
// @Summary Run template
// @Description Executes a list or post-connections template for the link owner. Dispatcher templates need a dispatcher link; the rest need the owner's contact link
// @Tags templates
// @Param id path string true "Template ID"
// @Param payload body LinkRequest true "Magic link parts"
// @Success 200 {object} templates.ListResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/templates/{id}/list [post]
func (h *TemplatesHandler) Run(c echo.Context) error {
	var req LinkRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := requestContext(c)
	owner, err := h.links.Verify(ctx, req.Parts)
	if err != nil {
		return serviceError(err)
	}
	out, err := h.runner.List(ctx, c.Param("id"), owner)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Create godoc
// @Summary Create record from template
// @Description Creates a record from a create-record template
// @Tags templates
// @Param id path string true "Template ID"
// @Param payload body CreateRequest true "Record fields"
// @Success 200 {object} CreateResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/templates/{id}/create [post]
func (h *TemplatesHandler) Create(c echo.Context) error {
	var req CreateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := requestContext(c)
	owner, err := h.links.Verify(ctx, req.Parts)
	if err != nil {
		return serviceError(err)
	}
	rec, err := h.runner.Create(ctx, c.Param("id"), req.Fields, owner)
	if err != nil {
		return serviceError(err)
	}
	h.logger.Info("template submission", slog.String("template", c.Param("id")), slog.String("app", owner.App.Type), slog.Int64("owner_id", owner.ID), slog.Int64("id", rec.ID))
	return c.JSON(http.StatusOK, CreateResponse{Success: true, ID: rec.ID, Name: rec.Name()})
}
