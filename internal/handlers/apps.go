package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/disciple-tools/homescreen-apps/internal/accounts"
	"github.com/disciple-tools/homescreen-apps/internal/auth"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/templates"
)

// AppsHandler lists the home-screen apps and issues magic links to logged-in users.
type AppsHandler struct {
	links    *magiclink.Service
	accounts *accounts.Service
	registry *templates.Registry
	prefix   string
	logger   *slog.Logger
}

// IssueRequest asks for a magic link. OwnerID defaults to the session user for user
// apps and to the user's linked contact for contact apps.
type IssueRequest struct {
	App     string `json:"app"`
	OwnerID ID     `json:"owner_id"`
	Rotate  bool   `json:"rotate"`
}

// AppsResponse lists magic-link apps and home-screen apps.
type AppsResponse struct {
	Apps     []magiclink.Settings `json:"apps"`
	HomeApps []templates.HomeApp  `json:"home_apps"`
}

// NewAppsHandler creates the apps handler.
func NewAppsHandler(log *slog.Logger, links *magiclink.Service, accountService *accounts.Service, registry *templates.Registry) *AppsHandler {
	return &AppsHandler{
		links:    links,
		accounts: accountService,
		registry: registry,
		prefix:   apiPrefix(links.Root()),
		logger:   log.With(slog.String("handler", "apps")),
	}
}

// Register mounts the apps and magic-link routes.
func (h *AppsHandler) Register(e *echo.Echo) {
	e.GET(h.prefix+"/apps", h.List)
	e.POST(h.prefix+"/magic-links", h.Issue)
}

// List godoc
// @Summary List apps
// @Description Returns the registered apps
// @Tags apps
// @Security BearerAuth
// @Success 200 {object} AppsResponse
// @Failure 401 {object} ErrorResponse
// @Router /homescreen_apps/v1/apps [get]
func (h *AppsHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, AppsResponse{Apps: h.links.Apps(), HomeApps: h.registry.HomeApps()})
}

// Issue godoc
// @Summary Issue magic link
// @Description Creates or returns a magic link. Users may issue links for themselves and their own contact; dispatchers may issue links for any owner
// @Tags apps
// @Security BearerAuth
// @Param payload body IssueRequest true "Link request"
// @Success 200 {object} magiclink.Link
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/magic-links [post]
func (h *AppsHandler) Issue(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req IssueRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	app, err := h.links.App(req.App)
	if err != nil {
		return serviceError(err)
	}
	ctx := c.Request().Context()
	user, err := h.accounts.User(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "user not found").SetInternal(err)
	}

	own := user.ID
	if app.OwnerType() != crm.OwnerUser {
		own = user.ContactID
	}
	ownerID := int64(req.OwnerID)
	if ownerID == 0 {
		ownerID = own
	}
	if ownerID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id is required")
	}
	if ownerID != own && !accounts.CanDispatch(user.Roles) {
		return echo.NewHTTPError(http.StatusForbidden, "You do not have permission to issue this link")
	}
	if app.LoginRequired && !accounts.CanDispatch(user.Roles) {
		return echo.NewHTTPError(http.StatusForbidden, "You do not have permission to use this app")
	}

	link, err := h.links.Issue(ctx, app.Type, ownerID, req.Rotate)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, link)
}
