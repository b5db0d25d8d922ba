package management

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Identity is an identity linked to a user account
type Identity struct {
	Provider   string `json:"provider"`
	UserID     string `json:"user_id"`
	Connection string `json:"connection,omitempty"`
	IsSocial   bool   `json:"isSocial"`
}

// User is a user account as returned by the management API
type User struct {
	ID            string         `json:"user_id"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	Name          string         `json:"name,omitempty"`
	Nickname      string         `json:"nickname,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	Blocked       bool           `json:"blocked,omitempty"`
	UserMetadata  map[string]any `json:"user_metadata,omitempty"`
	AppMetadata   map[string]any `json:"app_metadata,omitempty"`
	Identities    []Identity     `json:"identities,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
}

// UserPatch lists the attributes to change. Nil fields are left alone;
// metadata maps are merged, and a nil value inside one deletes that key.
type UserPatch struct {
	Email        *string        `json:"email,omitempty"`
	Name         *string        `json:"name,omitempty"`
	Nickname     *string        `json:"nickname,omitempty"`
	Picture      *string        `json:"picture,omitempty"`
	Blocked      *bool          `json:"blocked,omitempty"`
	Password     *string        `json:"password,omitempty"`
	Connection   *string        `json:"connection,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// LinkRequest names the secondary account to link into a primary one
type LinkRequest struct {
	Provider     string `json:"provider"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// UserManager groups the /users endpoints
type UserManager struct {
	client *Client
}

func userPath(id string) string {
	return "/users/" + url.PathEscape(id)
}

// Get fetches a user by ID
func (m *UserManager) Get(ctx context.Context, id string) (*User, error) {
	var u User
	if err := m.client.do(ctx, http.MethodGet, userPath(id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Patch updates a user and returns the result
func (m *UserManager) Patch(ctx context.Context, id string, patch *UserPatch) (*User, error) {
	if patch == nil {
		return nil, fmt.Errorf("management: nil patch")
	}
	var u User
	if err := m.client.do(ctx, http.MethodPatch, userPath(id), patch, &u); err != nil {
		return nil, err
	}
	m.client.logger.Debug().Str("user_id", id).Msg("user patched")
	return &u, nil
}

// Link merges the secondary account into primaryID and returns the primary's
// identities
func (m *UserManager) Link(ctx context.Context, primaryID string, req LinkRequest) ([]Identity, error) {
	var identities []Identity
	if err := m.client.do(ctx, http.MethodPost, userPath(primaryID)+"/identities", req, &identities); err != nil {
		return nil, err
	}
	return identities, nil
}

// Unlink detaches an identity from primaryID and returns the remaining ones
func (m *UserManager) Unlink(ctx context.Context, primaryID, provider, userID string) ([]Identity, error) {
	path := userPath(primaryID) + "/identities/" + url.PathEscape(provider) + "/" + url.PathEscape(userID)
	var identities []Identity
	if err := m.client.do(ctx, http.MethodDelete, path, nil, &identities); err != nil {
		return nil, err
	}
	return identities, nil
}
