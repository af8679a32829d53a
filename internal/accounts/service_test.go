package accounts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/crm/crmtest"
)

var start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *crmtest.MemStore) {
	t.Helper()
	store := crmtest.New(start)
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), store)
	svc.now = store.Now
	return svc, store
}

func TestCreateAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	created, err := svc.Create(ctx, CreateAccountRequest{Username: " dana ", Password: "hunter22", Roles: []string{RoleDispatcher}})
	require.NoError(t, err)
	assert.Equal(t, "dana", created.Username)
	assert.Equal(t, "dana", created.DisplayName)

	raw, err := store.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", raw.PasswordHash)

	acct, err := svc.Login(ctx, "dana", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, created.ID, acct.ID)
	assert.Equal(t, start, acct.LastLoginAt)
	assert.True(t, CanDispatch(acct.Roles))

	raw, err = store.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, start, raw.LastLoginAt)
}

func TestCreateDefaults(t *testing.T) {
	svc, _ := newService(t)
	acct, err := svc.Create(context.Background(), CreateAccountRequest{Username: "mo", Password: "pw", DisplayName: "Mo M"})
	require.NoError(t, err)
	assert.Equal(t, []string{RoleMultiplier}, acct.Roles)
	assert.Equal(t, "Mo M", acct.DisplayName)
	assert.False(t, CanDispatch(acct.Roles))

	_, err = svc.Create(context.Background(), CreateAccountRequest{Username: "mo", Password: "pw"})
	assert.ErrorIs(t, err, crm.ErrUserExists)

	_, err = svc.Create(context.Background(), CreateAccountRequest{Username: "no-pw", Password: " "})
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	_, err := svc.Create(ctx, CreateAccountRequest{Username: "dana", Password: "hunter22"})
	require.NoError(t, err)

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	store.PutUser(crm.User{ID: 5, Username: "gone", PasswordHash: hash})
	store.PutUser(crm.User{ID: 6, Username: "nohash", IsActive: true})

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"wrong password", "dana", "nope", ErrInvalidCredentials},
		{"unknown user", "ghost", "pw", ErrInvalidCredentials},
		{"blank", " ", "pw", ErrInvalidCredentials},
		{"inactive", "gone", "pw", ErrInactiveAccount},
		{"no password set", "nohash", "pw", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
