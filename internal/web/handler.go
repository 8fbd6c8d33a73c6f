package web

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/gautam20feb/jupyterhub/internal/auth"
	"github.com/gautam20feb/jupyterhub/internal/lifecycle"
	"github.com/gautam20feb/jupyterhub/internal/platform/errors"
	"github.com/gautam20feb/jupyterhub/internal/session"
	"github.com/gautam20feb/jupyterhub/internal/storage"
	"github.com/gautam20feb/jupyterhub/internal/user"
)

// Handler serves the hub's user-facing routes: dispatch for
// /user/<name>/... paths, the health probe, and the not-found page.
type Handler struct {
	hub      *user.Server
	auth     *auth.Authenticator
	sessions *session.Manager
	registry *user.Registry
	backends *lifecycle.Orchestrator
	users    storage.UserStore
	loginURL string
	clock    func() time.Time
}

func NewHandler(hub *user.Server, authn *auth.Authenticator, sessions *session.Manager, registry *user.Registry, backends *lifecycle.Orchestrator, users storage.UserStore, loginURL string) *Handler {
	return &Handler{
		hub:      hub,
		auth:     authn,
		sessions: sessions,
		registry: registry,
		backends: backends,
		users:    users,
		loginURL: loginURL,
		clock:    time.Now,
	}
}

// Register mounts the hub routes under the hub's base URL.
func (h *Handler) Register(mux *http.ServeMux) {
	base := strings.TrimSuffix(h.hub.BaseURL, "/")
	mux.HandleFunc(base+"/user/{name}", h.handleUserPrefix)
	mux.HandleFunc(base+"/user/{name}/{rest...}", h.handleUserRoute)
	mux.HandleFunc(base+"/hub/health", h.handleHealth)
	mux.HandleFunc("/", h.handleFallback)
}

// handleUserPrefix normalizes /user/<name> to /user/<name>/ so the
// backend always sees a path under its own prefix.
func (h *Handler) handleUserPrefix(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Path + "/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleUserRoute is the per-path entry point for a user's backend. An
// absent identity or a name mismatch is not an error: sessions are cleared
// and the request is silently redirected to login with the original path in
// the next parameter. A matching identity gets its backend spawned or
// resumed, fresh session cookies, and a redirect onto the backend path.
func (h *Handler) handleUserRoute(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("web").Start(r.Context(), "hub.dispatch")
	defer span.End()

	name := r.PathValue("name")
	if err := user.ValidateName(name); err != nil {
		RenderError(w, http.StatusNotFound, nil)
		return
	}

	u, err := h.auth.CurrentUser(ctx, w, r)
	if err != nil {
		RenderError(w, StatusFor(err), err)
		return
	}
	if u == nil || u.Name != name {
		h.sessions.Clear(w, u)
		h.redirectLogin(w, r)
		return
	}
	if !h.registry.IsAllowed(u.Name) {
		denied := errors.WithReason(errors.CodePermissionDenied,
			"You are not allowed to use this hub",
			fmt.Sprintf("user %s is not in the allowed set", u.Name))
		RenderError(w, StatusFor(denied), denied)
		return
	}

	if err := h.backends.EnsureRunning(ctx, u); err != nil {
		RenderError(w, StatusFor(err), err)
		return
	}
	if err := h.sessions.Establish(ctx, w, r, u); err != nil {
		RenderError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.users.UpdateLastActivity(ctx, u.Name, h.clock()); err != nil {
		log.Printf("update last activity for %s: %v", u.Name, err)
	}

	http.Redirect(w, r, h.backendTarget(u, r), http.StatusFound)
}

// backendTarget strips the hub's path prefix for the user from the request
// path. The stripped path always keeps a leading slash.
func (h *Handler) backendTarget(u *user.User, r *http.Request) string {
	prefix := user.JoinURLPath(h.hub.BaseURL, "user", u.Name)
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	if r.URL.RawQuery != "" {
		rest += "?" + r.URL.RawQuery
	}
	return rest
}

func (h *Handler) redirectLogin(w http.ResponseWriter, r *http.Request) {
	target := h.loginURL + "?next=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleFallback redirects paths outside the hub's base URL into it; paths
// already inside the base get the 404 page.
func (h *Handler) handleFallback(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(h.hub.BaseURL, "/")
	if base != "" && r.URL.Path != base && !strings.HasPrefix(r.URL.Path, base+"/") {
		target := base + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	RenderError(w, http.StatusNotFound, nil)
}
