package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/dispatcher"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/mycontacts"
	"github.com/disciple-tools/homescreen-apps/internal/templates"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// serviceError maps a service error onto an HTTP error.
func serviceError(err error) error {
	switch {
	case errors.Is(err, dispatcher.ErrMissingParams),
		errors.Is(err, mycontacts.ErrMissingParams),
		errors.Is(err, crm.ErrUnknownField),
		errors.Is(err, crm.ErrInvalidValue),
		errors.Is(err, templates.ErrNotCreatable),
		errors.Is(err, templates.ErrWrongType),
		errors.Is(err, magiclink.ErrUnknownApp):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, magiclink.ErrInvalidKey):
		return echo.NewHTTPError(http.StatusForbidden, "Invalid magic link")
	case errors.Is(err, templates.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "Template is not available to this link")
	case errors.Is(err, mycontacts.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, "You do not have access to this contact")
	case errors.Is(err, mycontacts.ErrOwnerNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Owner contact not found")
	case errors.Is(err, crm.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Contact not found")
	case errors.Is(err, crm.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	case errors.Is(err, templates.ErrTemplateNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Template not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
