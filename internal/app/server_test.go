package app

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Addr:           "127.0.0.1:0",
		DBPath:         filepath.Join(t.TempDir(), "hub.db"),
		ProxyAPIURL:    "http://127.0.0.1:1",
		ProxyAuthToken: "proxy-secret",
		LoginURL:       "/hub/login",
		AdminUsers:     []string{"ada"},
		SpawnerCommand: []string{"sleep", "30"},
	}
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return srv
}

func TestNewRequiresSpawnerCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.SpawnerCommand = nil
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error without a spawner command")
	}
}

func TestServerServesHealth(t *testing.T) {
	srv := startServer(t, testConfig(t))

	resp, err := http.Get("http://" + srv.Addr() + "/hub/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "OK" {
		t.Fatalf("expected OK body, got %q", body)
	}
}

func TestServerRedirectsUnauthenticatedUserRoute(t *testing.T) {
	srv := startServer(t, testConfig(t))

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get("http://" + srv.Addr() + "/user/alice/notebooks/x.ipynb")
	if err != nil {
		t.Fatalf("user route request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Path != "/hub/login" {
		t.Fatalf("expected login redirect, got %s", loc.Path)
	}
	if got := loc.Query().Get("next"); got != "/user/alice/notebooks/x.ipynb" {
		t.Fatalf("expected original path in next, got %q", got)
	}
}
