// Package session issues and revokes the hub's two session cookie scopes.
//
// A cookie under the hub's name authenticates to the hub itself; a cookie
// under a backend's name authenticates to that user's single-user server.
// The two are never cross-accepted.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gautam20feb/jupyterhub/internal/storage"
	"github.com/gautam20feb/jupyterhub/internal/user"
)

// Manager mints and clears session cookies backed by stored cookie tokens.
type Manager struct {
	tokens storage.CookieTokenStore
	hub    *user.Server
}

// NewManager creates a session manager for the given hub server descriptor.
func NewManager(tokens storage.CookieTokenStore, hub *user.Server) *Manager {
	return &Manager{tokens: tokens, hub: hub}
}

// Establish sets login cookies for the hub and, when a backend is running,
// for the single-user server.
//
// The backend-scope cookie is re-minted on every call so each visit refreshes
// it. The hub-scope cookie is minted only when the request does not already
// carry a valid one, avoiding token churn for an authenticated session.
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, r *http.Request, u *user.User) error {
	if u == nil {
		return fmt.Errorf("user is required")
	}

	if u.Server != nil {
		secret, err := m.tokens.CreateCookieToken(ctx, u.Name)
		if err != nil {
			return fmt.Errorf("mint backend cookie token: %w", err)
		}
		WriteCookie(w, u.Server.CookieName, secret, u.Server.BaseURL)
	}

	valid, err := m.hasValidHubCookie(ctx, r)
	if err != nil {
		return err
	}
	if !valid {
		secret, err := m.tokens.CreateCookieToken(ctx, u.Name)
		if err != nil {
			return fmt.Errorf("mint hub cookie token: %w", err)
		}
		WriteCookie(w, m.hub.CookieName, secret, m.hub.BaseURL)
	}
	return nil
}

// Clear expires the hub-scope cookie and, when the user has a live backend,
// the backend-scope cookie. Stored cookie tokens are left in place.
func (m *Manager) Clear(w http.ResponseWriter, u *user.User) {
	if u != nil && u.Server != nil {
		ClearCookie(w, u.Server.CookieName, u.Server.BaseURL)
	}
	ClearCookie(w, m.hub.CookieName, m.hub.BaseURL)
}

// hasValidHubCookie reports whether the request carries a hub-scope cookie
// backed by a stored token.
func (m *Manager) hasValidHubCookie(ctx context.Context, r *http.Request) (bool, error) {
	secret, ok := ReadCookie(r, m.hub.CookieName)
	if !ok {
		return false, nil
	}
	_, err := m.tokens.GetCookieToken(ctx, secret)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check hub cookie token: %w", err)
	}
	return true, nil
}
