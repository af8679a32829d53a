// Package accounts provides login and credential management for CRM users.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
)

// Errors returned by account operations.
var (
	ErrInvalidPassword    = errors.New("invalid password")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// Store is the user storage accounts need.
type Store interface {
	GetUser(ctx context.Context, id int64) (crm.User, error)
	GetUserByUsername(ctx context.Context, username string) (crm.User, error)
	CreateUser(ctx context.Context, u crm.NewUser) (crm.User, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

// Service provides account (credential) management for users.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new accounts service.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "accounts")),
		now:    time.Now,
	}
}

// Get returns an account by user id.
func (s *Service) Get(ctx context.Context, userID int64) (Account, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	return toAccount(u), nil
}

// User returns the CRM user behind an account.
func (s *Service) User(ctx context.Context, userID int64) (crm.User, error) {
	return s.store.GetUser(ctx, userID)
}

// Login authenticates by username and password.
func (s *Service) Login(ctx context.Context, username, password string) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return Account{}, ErrInvalidCredentials
	}
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, crm.ErrUserNotFound) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	if !u.IsActive {
		return Account{}, ErrInactiveAccount
	}
	if u.PasswordHash == "" {
		return Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	at := s.now()
	if err := s.store.TouchLogin(ctx, u.ID, at); err != nil {
		s.logger.Warn("touch last login failed", slog.Int64("user_id", u.ID), slog.Any("error", err))
	} else {
		u.LastLoginAt = at
	}
	return toAccount(u), nil
}

// Create hashes the password and stores a new user.
func (s *Service) Create(ctx context.Context, req CreateAccountRequest) (Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return Account{}, fmt.Errorf("username is required")
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return Account{}, err
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}
	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{RoleMultiplier}
	}
	u, err := s.store.CreateUser(ctx, crm.NewUser{
		Username:        username,
		DisplayName:     displayName,
		Email:           strings.TrimSpace(req.Email),
		PasswordHash:    hash,
		Roles:           roles,
		Languages:       req.Languages,
		LocationGridIDs: req.LocationGridIDs,
		ContactID:       req.ContactID,
	})
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("account created", slog.Int64("user_id", u.ID), slog.String("username", u.Username))
	return toAccount(u), nil
}

// HashPassword returns the bcrypt hash of a non-blank password.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrInvalidPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// CanDispatch reports whether the roles may use the dispatcher app.
func CanDispatch(roles []string) bool {
	return slices.Contains(roles, RoleDispatcher) || slices.Contains(roles, RoleAdministrator)
}

func toAccount(u crm.User) Account {
	return Account{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		ContactID:   u.ContactID,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}
