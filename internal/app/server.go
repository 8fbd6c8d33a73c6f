// Package app wires the hub's storage, collaborators, and HTTP surface into
// a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/auth"
	"github.com/gautam20feb/jupyterhub/internal/lifecycle"
	"github.com/gautam20feb/jupyterhub/internal/proxy"
	"github.com/gautam20feb/jupyterhub/internal/session"
	"github.com/gautam20feb/jupyterhub/internal/spawner"
	"github.com/gautam20feb/jupyterhub/internal/storage/sqlite"
	"github.com/gautam20feb/jupyterhub/internal/telemetry"
	"github.com/gautam20feb/jupyterhub/internal/user"
	"github.com/gautam20feb/jupyterhub/internal/web"
)

// HubCookieName is the session cookie scoped to the hub itself.
const HubCookieName = "jupyterhub-session"

// Config carries the hub server's wiring parameters.
type Config struct {
	Addr           string
	BaseURL        string
	DBPath         string
	ProxyAPIURL    string
	ProxyAuthToken string
	LoginURL       string
	AdminUsers     []string
	AllowedUsers   []string
	SpawnerCommand []string
}

// Server hosts the hub.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	hub        *user.Server
	registry   *user.Registry
	backends   *lifecycle.Orchestrator
}

// New creates a configured hub server listening on cfg.Addr. Admin users
// named in the config get their user records created up front so a bearer
// token can be minted for them before their first visit.
func New(cfg Config) (*Server, error) {
	if len(cfg.SpawnerCommand) == 0 {
		return nil, fmt.Errorf("spawner command is required")
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	base := cfg.BaseURL
	if base == "" {
		base = "/"
	}
	hub := &user.Server{
		BaseURL:    base,
		Addr:       listener.Addr().String(),
		CookieName: HubCookieName,
	}

	registry := user.NewRegistry(cfg.AdminUsers, cfg.AllowedUsers)
	if err := seedAdmins(store, registry); err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	emitter := telemetry.NewEmitter(store)
	backends := lifecycle.New(
		store,
		proxy.NewClient(cfg.ProxyAPIURL, cfg.ProxyAuthToken, nil),
		spawner.NewLocalFactory(cfg.SpawnerCommand),
		emitter,
		hub.BaseURL,
	)

	authn := auth.New(store, store, store, hub)
	authn.SetTelemetry(emitter)

	mux := http.NewServeMux()
	handler := web.NewHandler(
		hub,
		authn,
		session.NewManager(store, hub),
		registry,
		backends,
		store,
		cfg.LoginURL,
	)
	handler.Register(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
		hub:        hub,
		registry:   registry,
		backends:   backends,
	}, nil
}

func seedAdmins(store *sqlite.Store, registry *user.Registry) error {
	ctx := context.Background()
	for _, name := range registry.Admins() {
		if _, err := store.EnsureUser(ctx, name, true); err != nil {
			return fmt.Errorf("seed admin %s: %w", name, err)
		}
	}
	return nil
}

// Addr returns the listener address for the hub server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a hub server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	srv, err := New(cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the hub server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("hub listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

func (s *Server) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close hub store: %v", err)
	}
}
