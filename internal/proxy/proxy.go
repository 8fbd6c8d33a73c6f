// Package proxy registers backend routes with the hub's routing proxy.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/user"
)

// Proxy maps a user's path prefix to their backend address. Both operations
// are idempotent from the caller's perspective.
type Proxy interface {
	AddRoute(ctx context.Context, u user.User) error
	DeleteRoute(ctx context.Context, u user.User) error
}

// Client talks to the proxy's REST API.
type Client struct {
	apiURL    string
	authToken string
	client    *http.Client
}

// NewClient creates a proxy API client. The auth token is sent as an
// "Authorization: token" header on every call.
func NewClient(apiURL, authToken string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiURL:    strings.TrimRight(apiURL, "/"),
		authToken: authToken,
		client:    client,
	}
}

type routeSpec struct {
	Target string `json:"target"`
	User   string `json:"user"`
}

// AddRoute registers the user's backend under its path prefix.
func (c *Client) AddRoute(ctx context.Context, u user.User) error {
	if u.Server == nil {
		return fmt.Errorf("user %s has no server to route", u.Name)
	}

	body, err := json.Marshal(routeSpec{Target: u.Server.TargetURL(), User: u.Name})
	if err != nil {
		return fmt.Errorf("encode route for %s: %w", u.Name, err)
	}

	resp, err := c.do(ctx, http.MethodPost, u.Server.BaseURL, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("add route for %s: %w", u.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("add route for %s: proxy returned %s", u.Name, resp.Status)
	}
	return nil
}

// DeleteRoute removes the user's route. A missing route is not an error, so
// double-delete is safe.
func (c *Client) DeleteRoute(ctx context.Context, u user.User) error {
	prefix := user.JoinURLPath("/", "user", u.Name) + "/"
	if u.Server != nil {
		prefix = u.Server.BaseURL
	}

	resp, err := c.do(ctx, http.MethodDelete, prefix, nil)
	if err != nil {
		return fmt.Errorf("delete route for %s: %w", u.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete route for %s: proxy returned %s", u.Name, resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, prefix string, body *strings.Reader) (*http.Response, error) {
	url := c.apiURL + "/api/routes" + strings.TrimRight(prefix, "/")

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "token "+c.authToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}
