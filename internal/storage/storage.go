// Package storage defines the persistence interfaces for hub identity state.
package storage

import (
	"context"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/platform/errors"
	"github.com/gautam20feb/jupyterhub/internal/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// APIToken is an opaque bearer secret issued to a user. Immutable once
// issued; revoked by deletion.
type APIToken struct {
	Secret    string
	UserName  string
	CreatedAt time.Time
}

// CookieToken is an opaque secret carried in a session cookie. Which server
// it authenticates against is decided by the cookie name it is set under,
// not by a stored field.
type CookieToken struct {
	Secret    string
	UserName  string
	CreatedAt time.Time
}

// UserStore persists hub user records.
type UserStore interface {
	// GetUser returns the user by name, or ErrNotFound.
	GetUser(ctx context.Context, name string) (user.User, error)
	// EnsureUser returns the user by name, creating the record on first sight.
	EnsureUser(ctx context.Context, name string, admin bool) (user.User, error)
	// UpdateLastActivity records the most recent authenticated activity.
	UpdateLastActivity(ctx context.Context, name string, at time.Time) error
	// SetUserServer stores or clears (nil) the user's backend descriptor.
	SetUserServer(ctx context.Context, name string, srv *user.Server) error
}

// APITokenStore persists bearer API tokens.
type APITokenStore interface {
	// CreateAPIToken mints and stores a new API token secret for the user.
	CreateAPIToken(ctx context.Context, userName string) (string, error)
	// GetAPIToken returns the token matching secret exactly, or ErrNotFound.
	GetAPIToken(ctx context.Context, secret string) (APIToken, error)
}

// CookieTokenStore persists session cookie tokens.
type CookieTokenStore interface {
	// CreateCookieToken mints and stores a new cookie token secret for the user.
	CreateCookieToken(ctx context.Context, userName string) (string, error)
	// GetCookieToken returns the token matching secret exactly, or ErrNotFound.
	GetCookieToken(ctx context.Context, secret string) (CookieToken, error)
}

// TelemetryEvent records an operational event.
type TelemetryEvent struct {
	Kind      string
	UserName  string
	Detail    string
	Timestamp time.Time
}

// TelemetryStore appends operational telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}
