package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectra-insight/internal/model"
)

func newTestOAuthService() (*OAuthService, *fakeUserStore) {
	users := newFakeUserStore()
	chats := newFakeChatStore()
	svc := NewOAuthService(users, chats, GoogleOAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
	}, "test-secret", time.Hour)
	return svc, users
}

func TestResolveUserCreatesGoogleOnlyAccount(t *testing.T) {
	svc, users := newTestOAuthService()

	user, err := svc.resolveUser("g-1", "new@example.com", "New User")
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Nil(t, user.PasswordHash)
	require.NotNil(t, user.GoogleID)
	assert.Equal(t, "g-1", *user.GoogleID)
	assert.Len(t, users.users, 1)
}

func TestResolveUserLinksExistingEmailAccount(t *testing.T) {
	svc, users := newTestOAuthService()

	hash := "bcrypt-hash"
	require.NoError(t, users.Create(&model.User{
		Email:        "linked@example.com",
		Name:         "Linked",
		PasswordHash: &hash,
	}))

	user, err := svc.resolveUser("g-2", "linked@example.com", "Ignored Name")
	require.NoError(t, err)

	require.NotNil(t, user.GoogleID)
	assert.Equal(t, "g-2", *user.GoogleID)
	assert.Equal(t, "Linked", user.Name)
	// Linking keeps the password; the user can still log in either way.
	assert.NotNil(t, user.PasswordHash)
	assert.Len(t, users.users, 1)
}

func TestResolveUserReturnsKnownGoogleIdentity(t *testing.T) {
	svc, users := newTestOAuthService()

	first, err := svc.resolveUser("g-3", "repeat@example.com", "Repeat")
	require.NoError(t, err)

	second, err := svc.resolveUser("g-3", "repeat@example.com", "Repeat")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, users.users, 1)
}

func TestLoginURLContainsState(t *testing.T) {
	svc, _ := newTestOAuthService()

	url, state, err := svc.LoginURL()
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, url, "state=")
	assert.Contains(t, url, "client_id=client")
}
