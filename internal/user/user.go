// Package user defines the hub's identity model.
package user

import (
	"fmt"
	"strings"
	"time"
)

// Server describes a running HTTP endpoint that issues its own session
// cookie: either the hub itself or a user's single-user backend. Read-only
// after construction.
type Server struct {
	// BaseURL is the path prefix the server is routed under, e.g. "/user/ada/".
	BaseURL string
	// Addr is the host:port the server listens on.
	Addr string
	// CookieName scopes session cookies to this server.
	CookieName string
}

// TargetURL returns the URL the proxy should forward matching requests to.
func (s Server) TargetURL() string {
	return "http://" + s.Addr
}

// User is a hub identity.
//
// Server is set only while a backend is believed running; the backend may
// still die asynchronously, leaving Server stale until the lifecycle watchdog
// clears it.
type User struct {
	Name         string
	Admin        bool
	LastActivity time.Time
	Server       *Server
}

// BackendServer builds the server descriptor for the user's single-user
// backend under the given hub base path.
func BackendServer(hubBaseURL, name, addr string) *Server {
	return &Server{
		BaseURL:    JoinURLPath(hubBaseURL, "user", name) + "/",
		Addr:       addr,
		CookieName: "jupyterhub-user-" + name,
	}
}

// JoinURLPath joins URL path segments with single slashes, preserving the
// leading slash of the first segment.
func JoinURLPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		trimmed := strings.Trim(segment, "/")
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return "/" + strings.Join(parts, "/")
}

// ValidateName rejects names that cannot appear in a backend path prefix.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("user name is required")
	}
	if strings.ContainsAny(name, "/ \t") {
		return fmt.Errorf("user name %q contains invalid characters", name)
	}
	return nil
}
