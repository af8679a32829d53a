package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/disciple-tools/homescreen-apps/internal/accounts"
	"github.com/disciple-tools/homescreen-apps/internal/auth"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/dispatcher"
)

// DispatcherHandler serves the dispatcher app to logged-in dispatchers.
type DispatcherHandler struct {
	service  *dispatcher.Service
	accounts *accounts.Service
	prefix   string
	logger   *slog.Logger
}

// ContactRequest names one contact.
type ContactRequest struct {
	ContactID ID `json:"contact_id"`
}

// UsersRequest carries the contact attributes users are matched against.
type UsersRequest struct {
	ContactLocationIDs IDs      `json:"contact_location_ids"`
	ContactLanguages   []string `json:"contact_languages"`
}

// AssignRequest assigns a contact to a user.
type AssignRequest struct {
	ContactID ID `json:"contact_id"`
	UserID    ID `json:"user_id"`
}

// CommentRequest adds a comment to a contact.
type CommentRequest struct {
	ContactID ID     `json:"contact_id"`
	Comment   string `json:"comment"`
}

// MentionRequest searches users by display name.
type MentionRequest struct {
	Search string `json:"search"`
}

// NewDispatcherHandler creates the dispatcher handler for apps under root.
func NewDispatcherHandler(log *slog.Logger, service *dispatcher.Service, accountService *accounts.Service, root string) *DispatcherHandler {
	return &DispatcherHandler{
		service:  service,
		accounts: accountService,
		prefix:   apiPrefix(root) + "/dispatcher",
		logger:   log.With(slog.String("handler", "dispatcher")),
	}
}

// Register mounts the dispatcher routes.
func (h *DispatcherHandler) Register(e *echo.Echo) {
	g := e.Group(h.prefix)
	g.POST("/contacts", h.Contacts)
	g.POST("/contact", h.Contact)
	g.POST("/users", h.Users)
	g.POST("/assign", h.Assign)
	g.POST("/comment", h.Comment)
	g.POST("/users-mention", h.MentionUsers)
}

// requireDispatcher resolves the session user and checks the dispatcher role.
func (h *DispatcherHandler) requireDispatcher(c echo.Context) (crm.User, error) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return crm.User{}, err
	}
	user, err := h.accounts.User(c.Request().Context(), userID)
	if err != nil {
		return crm.User{}, echo.NewHTTPError(http.StatusUnauthorized, "user not found").SetInternal(err)
	}
	if !user.IsActive || !accounts.CanDispatch(user.Roles) {
		return crm.User{}, echo.NewHTTPError(http.StatusForbidden, "You do not have permission to dispatch contacts")
	}
	return user, nil
}

// Contacts godoc
// @Summary List unassigned contacts
// @Description Lists unassigned contacts, newest first
// @Tags dispatcher
// @Security BearerAuth
// @Success 200 {object} dispatcher.ContactList
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/dispatcher/contacts [post]
func (h *DispatcherHandler) Contacts(c echo.Context) error {
	if _, err := h.requireDispatcher(c); err != nil {
		return err
	}
	out, err := h.service.Contacts(requestContext(c))
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Contact godoc
// @Summary Get contact
// @Description Returns one contact's summary tiles and comments
// @Tags dispatcher
// @Security BearerAuth
// @Param payload body ContactRequest true "Contact"
// @Success 200 {object} dispatcher.ContactDetail
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/dispatcher/contact [post]
func (h *DispatcherHandler) Contact(c echo.Context) error {
	if _, err := h.requireDispatcher(c); err != nil {
		return err
	}
	var req ContactRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.service.Contact(requestContext(c), int64(req.ContactID))
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Users godoc
// @Summary Rank multipliers
// @Description Ranks multipliers for a contact
// @Tags dispatcher
// @Security BearerAuth
// @Param payload body UsersRequest true "Contact locations and languages"
// @Success 200 {object} dispatcher.UserList
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/dispatcher/users [post]
func (h *DispatcherHandler) Users(c echo.Context) error {
	if _, err := h.requireDispatcher(c); err != nil {
		return err
	}
	var req UsersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.service.Users(requestContext(c), req.ContactLocationIDs, req.ContactLanguages)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Assign godoc
// @Summary Assign contact
// @Description Assigns a contact to a user
// @Tags dispatcher
// @Security BearerAuth
// @Param payload body AssignRequest true "Assignment"
// @Success 200 {object} dispatcher.AssignResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/dispatcher/assign [post]
func (h *DispatcherHandler) Assign(c echo.Context) error {
	user, err := h.requireDispatcher(c)
	if err != nil {
		return err
	}
	var req AssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.service.Assign(requestContext(c), int64(req.ContactID), int64(req.UserID), user.ID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Comment godoc
// @Summary Comment on contact
// @Description Adds a comment as the dispatcher
// @Tags dispatcher
// @Security BearerAuth
// @Param payload body CommentRequest true "Comment"
// @Success 200 {object} dispatcher.CommentResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/dispatcher/comment [post]
func (h *DispatcherHandler) Comment(c echo.Context) error {
	user, err := h.requireDispatcher(c)
	if err != nil {
		return err
	}
	var req CommentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.service.Comment(requestContext(c), int64(req.ContactID), req.Comment, user)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// MentionUsers godoc
// @Summary Search users to mention
// @Description Searches users to mention
// @Tags dispatcher
// @Security BearerAuth
// @Param payload body MentionRequest true "Search"
// @Success 200 {object} dispatcher.MentionUsers
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/dispatcher/users-mention [post]
func (h *DispatcherHandler) MentionUsers(c echo.Context) error {
	if _, err := h.requireDispatcher(c); err != nil {
		return err
	}
	var req MentionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.service.MentionUsers(requestContext(c), req.Search)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}
