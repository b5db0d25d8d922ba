package management

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit/client"
	"github.com/panyam/authkit/client/stores/memory"
	"github.com/panyam/authkit/internal/testidp"
)

func newTestManagement(t *testing.T) (*Client, *testidp.Server) {
	t.Helper()
	idp := testidp.New("mgmt-client")
	t.Cleanup(idp.Close)
	idp.AddUser(testidp.User{
		ID:           "auth0|ada",
		Email:        "ada@example.com",
		Name:         "Ada",
		UserMetadata: map[string]any{"theme": "dark", "lang": "en"},
	})
	return NewWithToken(idp.URL(), idp.IssueAccessToken("auth0|admin")), idp
}

func strPtr(s string) *string { return &s }

func TestUsers_Get(t *testing.T) {
	c, _ := newTestManagement(t)

	u, err := c.Users.Get(context.Background(), "auth0|ada")
	require.NoError(t, err)
	assert.Equal(t, "auth0|ada", u.ID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "dark", u.UserMetadata["theme"])
	require.Len(t, u.Identities, 1)
	assert.Equal(t, "auth0", u.Identities[0].Provider)
	assert.Equal(t, "ada", u.Identities[0].UserID)

	_, err = c.Users.Get(context.Background(), "auth0|nobody")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "inexistent_user", apiErr.ErrorCode)
}

func TestUsers_Patch(t *testing.T) {
	c, idp := newTestManagement(t)

	u, err := c.Users.Patch(context.Background(), "auth0|ada", &UserPatch{
		Nickname:     strPtr("countess"),
		UserMetadata: map[string]any{"lang": nil, "tz": "Europe/London"},
		AppMetadata:  map[string]any{"plan": "pro"},
	})
	require.NoError(t, err)
	assert.Equal(t, "countess", u.Nickname)
	assert.Equal(t, "Ada", u.Name, "untouched fields survive")
	assert.Equal(t, map[string]any{"theme": "dark", "tz": "Europe/London"}, u.UserMetadata)
	assert.Equal(t, "pro", u.AppMetadata["plan"])

	stored, ok := idp.User("auth0|ada")
	require.True(t, ok)
	assert.Equal(t, "countess", stored.Nickname)

	_, err = c.Users.Patch(context.Background(), "auth0|ada", nil)
	assert.Error(t, err)
}

func TestUsers_LinkAndUnlink(t *testing.T) {
	c, idp := newTestManagement(t)
	idp.AddUser(testidp.User{
		ID:         "google-oauth2|123",
		Email:      "ada@gmail.com",
		Identities: []testidp.Identity{{Provider: "google-oauth2", UserID: "123", IsSocial: true}},
	})

	identities, err := c.Users.Link(context.Background(), "auth0|ada", LinkRequest{
		Provider:     "google-oauth2",
		UserID:       "123",
		ConnectionID: "con_google",
	})
	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "google-oauth2", identities[1].Provider)
	assert.True(t, identities[1].IsSocial)

	_, stillThere := idp.User("google-oauth2|123")
	assert.False(t, stillThere, "secondary account is merged into the primary")

	identities, err = c.Users.Unlink(context.Background(), "auth0|ada", "google-oauth2", "123")
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "auth0", identities[0].Provider)

	_, back := idp.User("google-oauth2|123")
	assert.True(t, back)

	_, err = c.Users.Unlink(context.Background(), "auth0|ada", "google-oauth2", "123")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestUsers_Unauthorized(t *testing.T) {
	idp := testidp.New("mgmt-client")
	defer idp.Close()

	c := NewWithToken(idp.URL(), "not-a-token")
	_, err := c.Users.Get(context.Background(), "auth0|ada")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.StatusCode)
}

func TestUsers_ManagerTokenSource(t *testing.T) {
	idp := testidp.New("mgmt-client")
	defer idp.Close()
	idp.AddUser(testidp.User{ID: "auth0|ada", Email: "ada@example.com"})

	m := client.NewCredentialsManager(memory.New(), nil)
	require.True(t, m.Store(&client.Credentials{
		AccessToken: idp.IssueAccessToken("auth0|ada"),
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	c := New(idp.URL(), m.TokenSource(context.Background()), WithRateLimit(100, 10))
	u, err := c.Users.Get(context.Background(), "auth0|ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
}
