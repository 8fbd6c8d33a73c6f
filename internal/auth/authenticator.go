// Package auth resolves a request's identity from its two trust channels:
// the Authorization token header and the hub session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/session"
	"github.com/gautam20feb/jupyterhub/internal/storage"
	"github.com/gautam20feb/jupyterhub/internal/telemetry"
	"github.com/gautam20feb/jupyterhub/internal/user"
)

// authHeaderPattern matches the "token <secret>" authorization scheme.
var authHeaderPattern = regexp.MustCompile(`^token\s+(\S+)$`)

// Authenticator validates bearer tokens and hub session cookies.
type Authenticator struct {
	users        storage.UserStore
	apiTokens    storage.APITokenStore
	cookieTokens storage.CookieTokenStore
	hub          *user.Server
	clock        func() time.Time
	telemetry    *telemetry.Emitter
}

// New creates an authenticator for the given hub server descriptor.
func New(users storage.UserStore, apiTokens storage.APITokenStore, cookieTokens storage.CookieTokenStore, hub *user.Server) *Authenticator {
	return &Authenticator{
		users:        users,
		apiTokens:    apiTokens,
		cookieTokens: cookieTokens,
		hub:          hub,
		clock:        time.Now,
	}
}

// SetTelemetry sets the emitter used to record cookie-clearing events.
func (a *Authenticator) SetTelemetry(emitter *telemetry.Emitter) {
	a.telemetry = emitter
}

// CurrentUser resolves the request's identity, or nil when no credential
// matches. Bearer-token identity always wins over cookie identity; the
// cookie channel is consulted only when the header yields nothing.
//
// Absent or malformed credentials never produce an error; only store-access
// failures do.
func (a *Authenticator) CurrentUser(ctx context.Context, w http.ResponseWriter, r *http.Request) (*user.User, error) {
	u, err := a.userFromHeader(ctx, r)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	return a.UserFromCookie(ctx, w, r)
}

// userFromHeader resolves identity from the Authorization token header.
// A well-formed header whose token is unknown yields nothing, identically
// to an absent header.
func (a *Authenticator) userFromHeader(ctx context.Context, r *http.Request) (*user.User, error) {
	match := authHeaderPattern.FindStringSubmatch(r.Header.Get("Authorization"))
	if match == nil {
		return nil, nil
	}

	token, err := a.apiTokens.GetAPIToken(ctx, match[1])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("look up api token: %w", err)
	}

	u, err := a.users.GetUser(ctx, token.UserName)
	if err != nil {
		return nil, fmt.Errorf("resolve token owner %s: %w", token.UserName, err)
	}
	now := a.clock()
	if err := a.users.UpdateLastActivity(ctx, u.Name, now); err != nil {
		return nil, fmt.Errorf("update last activity for %s: %w", u.Name, err)
	}
	u.LastActivity = now
	return &u, nil
}

// UserFromCookie resolves identity from the hub-scope session cookie. A
// present but invalid cookie is cleared as a side effect so a bad cookie
// cannot cause a redirect loop.
func (a *Authenticator) UserFromCookie(ctx context.Context, w http.ResponseWriter, r *http.Request) (*user.User, error) {
	secret, ok := session.ReadCookie(r, a.hub.CookieName)
	if !ok {
		return nil, nil
	}

	token, err := a.cookieTokens.GetCookieToken(ctx, secret)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			session.ClearCookie(w, a.hub.CookieName, a.hub.BaseURL)
			if err := a.telemetry.Emit(ctx, storage.TelemetryEvent{
				Kind:   telemetry.KindLoginCookieCleared,
				Detail: "unknown cookie token",
			}); err != nil {
				log.Printf("emit cookie-cleared telemetry: %v", err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("look up cookie token: %w", err)
	}

	u, err := a.users.GetUser(ctx, token.UserName)
	if err != nil {
		return nil, fmt.Errorf("resolve cookie owner %s: %w", token.UserName, err)
	}
	return &u, nil
}
