package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/mycontacts"
)

// Verifier resolves the owner of a magic link.
type Verifier interface {
	Verify(ctx context.Context, parts magiclink.Parts) (magiclink.Owner, error)
	VerifyApp(ctx context.Context, appType string, parts magiclink.Parts) (int64, error)
}

// MyContactsHandler serves the my-contacts magic link app.
type MyContactsHandler struct {
	service *mycontacts.Service
	links   Verifier
	prefix  string
	logger  *slog.Logger
}

// LinkRequest carries the magic link parts.
type LinkRequest struct {
	Parts magiclink.Parts `json:"parts"`
}

// LinkContactRequest names a contact under a magic link.
type LinkContactRequest struct {
	Parts     magiclink.Parts `json:"parts"`
	ContactID ID              `json:"contact_id"`
}

// LinkCommentRequest adds a comment under a magic link.
type LinkCommentRequest struct {
	Parts     magiclink.Parts `json:"parts"`
	ContactID ID              `json:"contact_id"`
	Comment   string          `json:"comment"`
}

// LinkMentionRequest searches users under a magic link.
type LinkMentionRequest struct {
	Parts  magiclink.Parts `json:"parts"`
	Search string          `json:"search"`
}

// UpdateFieldRequest sets one field from an edit component value.
type UpdateFieldRequest struct {
	Parts      magiclink.Parts `json:"parts"`
	ContactID  ID              `json:"contact_id"`
	FieldKey   string          `json:"field_key"`
	FieldValue json.RawMessage `json:"field_value"`
}

// FieldOptionsRequest searches editor choices.
type FieldOptionsRequest struct {
	Parts    magiclink.Parts `json:"parts"`
	Field    string          `json:"field"`
	Query    string          `json:"query"`
	PostType string          `json:"post_type"`
}

// NewMyContactsHandler creates the my-contacts handler for apps under root.
func NewMyContactsHandler(log *slog.Logger, service *mycontacts.Service, links Verifier, root string) *MyContactsHandler {
	return &MyContactsHandler{
		service: service,
		links:   links,
		prefix:  apiPrefix(root) + "/" + magiclink.TypeMyContacts,
		logger:  log.With(slog.String("handler", "mycontacts")),
	}
}

// Register mounts the my-contacts routes.
func (h *MyContactsHandler) Register(e *echo.Echo) {
	g := e.Group(h.prefix)
	g.POST("/contacts", h.Contacts)
	g.POST("/contact", h.Contact)
	g.POST("/comment", h.Comment)
	g.POST("/users-mention", h.MentionUsers)
	g.POST("/update-field", h.UpdateField)
	g.POST("/field-options", h.FieldOptions)
}

func (h *MyContactsHandler) owner(c echo.Context, parts magiclink.Parts) (int64, error) {
	id, err := h.links.VerifyApp(c.Request().Context(), magiclink.TypeMyContacts, parts)
	if err != nil {
		return 0, serviceError(err)
	}
	return id, nil
}

// Contacts godoc
// @Summary List owner contacts
// @Description Lists the owner's contacts
// @Tags my_contacts
// @Param payload body LinkRequest true "Magic link parts"
// @Success 200 {object} mycontacts.ContactList
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/my_contacts/contacts [post]
func (h *MyContactsHandler) Contacts(c echo.Context) error {
	var req LinkRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ownerID, err := h.owner(c, req.Parts)
	if err != nil {
		return err
	}
	out, err := h.service.Contacts(requestContext(c), ownerID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Contact godoc
// @Summary Get owner contact
// @Description Returns one contact's editable tiles and feed
// @Tags my_contacts
// @Param payload body LinkContactRequest true "Contact"
// @Success 200 {object} mycontacts.ContactDetail
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/my_contacts/contact [post]
func (h *MyContactsHandler) Contact(c echo.Context) error {
	var req LinkContactRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ownerID, err := h.owner(c, req.Parts)
	if err != nil {
		return err
	}
	out, err := h.service.Contact(requestContext(c), ownerID, int64(req.ContactID))
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Comment godoc
// @Summary Comment as owner
// @Description Adds a comment as the owner
// @Tags my_contacts
// @Param payload body LinkCommentRequest true "Comment"
// @Success 200 {object} mycontacts.CommentResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/my_contacts/comment [post]
func (h *MyContactsHandler) Comment(c echo.Context) error {
	var req LinkCommentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ownerID, err := h.owner(c, req.Parts)
	if err != nil {
		return err
	}
	out, err := h.service.Comment(requestContext(c), ownerID, int64(req.ContactID), req.Comment)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// MentionUsers godoc
// @Summary Search users to mention
// @Description Searches users to mention
// @Tags my_contacts
// @Param payload body LinkMentionRequest true "Search"
// @Success 200 {object} map[string][]crm.UserRef
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/my_contacts/users-mention [post]
func (h *MyContactsHandler) MentionUsers(c echo.Context) error {
	var req LinkMentionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if _, err := h.owner(c, req.Parts); err != nil {
		return err
	}
	users, err := h.service.MentionUsers(requestContext(c), req.Search)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, map[string][]crm.UserRef{"users": users})
}

// UpdateField godoc
// @Summary Update contact field
// @Description Applies one field edit
// @Tags my_contacts
// @Param payload body UpdateFieldRequest true "Field edit"
// @Success 200 {object} mycontacts.UpdateResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/my_contacts/update-field [post]
func (h *MyContactsHandler) UpdateField(c echo.Context) error {
	var req UpdateFieldRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ownerID, err := h.owner(c, req.Parts)
	if err != nil {
		return err
	}
	out, err := h.service.UpdateField(requestContext(c), ownerID, int64(req.ContactID), req.FieldKey, req.FieldValue)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// FieldOptions godoc
// @Summary Search field options
// @Description Searches connection, location and tag choices
// @Tags my_contacts
// @Param payload body FieldOptionsRequest true "Search"
// @Success 200 {object} mycontacts.OptionList
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /homescreen_apps/v1/my_contacts/field-options [post]
func (h *MyContactsHandler) FieldOptions(c echo.Context) error {
	var req FieldOptionsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if _, err := h.owner(c, req.Parts); err != nil {
		return err
	}
	out, err := h.service.FieldOptions(requestContext(c), req.Field, req.Query, req.PostType)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, out)
}
