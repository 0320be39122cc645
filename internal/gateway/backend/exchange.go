package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/pkg/jwtx"
)

// Backend auth endpoints.
const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"
)

// Wrapped when a successful exchange is missing a credential.
var (
	ErrNoAccessToken  = errors.New("backend: exchange returned no access token")
	ErrNoRefreshToken = errors.New("backend: login returned no refresh token")
)

// User is the signed-in user as the backend describes it.
type User struct {
	ID                 string `json:"id"`
	UserID             string `json:"userId"`
	TenantID           string `json:"tenantId"`
	Role               string `json:"role"`
	Username           string `json:"username"`
	Email              string `json:"email"`
	MustChangePassword bool   `json:"mustChangePassword"`
	IsPrimaryTenant    bool   `json:"isPrimaryTenant"`
}

// Identity converts u to a session descriptor payload.
func (u *User) Identity() jwtx.Identity {
	id := u.UserID
	if id == "" {
		id = u.ID
	}
	return jwtx.Identity{
		UserID:             id,
		TenantID:           u.TenantID,
		Role:               u.Role,
		Username:           u.Username,
		Email:              u.Email,
		MustChangePassword: u.MustChangePassword,
		IsPrimaryTenant:    u.IsPrimaryTenant,
	}
}

// Tokens is the answer of a login or refresh exchange. RefreshToken is
// empty when the backend did not rotate it; User is nil when the backend did
// not describe the user.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

// Refresh exchanges refreshToken for a new credential pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, "refresh", RefreshPath, body)
}

// Login forwards the browser's credentials document to the backend.
func (c *Client) Login(ctx context.Context, credentials *payload.Snapshot) (*Tokens, error) {
	body, err := credentials.Bytes()
	if err != nil {
		return nil, err
	}
	tokens, err := c.exchange(ctx, "login", LoginPath, body)
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		return nil, &Error{
			Kind:    KindStatus,
			Status:  http.StatusBadGateway,
			Message: "Backend returned no refresh token",
			Err:     ErrNoRefreshToken,
		}
	}
	return tokens, nil
}

// Logout revokes the session on the backend.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return err
	}

	header := jsonHeader()
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}

	_, err = c.do(ctx, "logout", http.MethodPost, LogoutPath, bytes.NewReader(body), header)
	return err
}

func (c *Client) exchange(ctx context.Context, operation, path string, body []byte) (*Tokens, error) {
	resp, err := c.do(ctx, operation, http.MethodPost, path, bytes.NewReader(body), jsonHeader())
	if err != nil {
		return nil, err
	}

	tokens, err := decodeTokens(resp.body)
	if err != nil {
		return nil, &Error{
			Kind:    KindStatus,
			Status:  http.StatusBadGateway,
			Message: "Backend returned an invalid token response",
			Err:     err,
		}
	}
	return tokens, nil
}

// decodeTokens reads {accessToken, refreshToken?, user?}, also accepting
// the same document wrapped in a "data" envelope.
func decodeTokens(body []byte) (*Tokens, error) {
	var doc struct {
		Tokens
		Data *Tokens `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	tokens := doc.Tokens
	if tokens.AccessToken == "" && doc.Data != nil {
		tokens = *doc.Data
	}
	if tokens.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return &tokens, nil
}

func jsonHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}
