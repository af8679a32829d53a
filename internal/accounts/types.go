package accounts

import "time"

// Roles understood by the apps.
const (
	RoleAdministrator = "administrator"
	RoleDispatcher    = "dispatcher"
	RoleMultiplier    = "multiplier"
)

// Account is the session view of a CRM user.
type Account struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	ContactID   int64     `json:"contact_id,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at,omitzero"`
}

// CreateAccountRequest is the input for creating an account.
type CreateAccountRequest struct {
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	Email           string   `json:"email,omitempty"`
	DisplayName     string   `json:"display_name,omitempty"`
	Roles           []string `json:"roles,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	LocationGridIDs []int64  `json:"location_grid_ids,omitempty"`
	ContactID       int64    `json:"contact_id,omitempty"`
}
