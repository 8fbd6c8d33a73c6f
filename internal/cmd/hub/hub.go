// Package hub parses hub command flags and runs the hub server.
package hub

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/app"
	"github.com/gautam20feb/jupyterhub/internal/platform/config"
	"github.com/gautam20feb/jupyterhub/internal/platform/otel"
)

// Config holds hub command configuration.
type Config struct {
	Addr           string   `env:"JUPYTERHUB_ADDR"             envDefault:"localhost:8000"`
	BaseURL        string   `env:"JUPYTERHUB_BASE_URL"         envDefault:"/"`
	DBPath         string   `env:"JUPYTERHUB_DB_PATH"          envDefault:"data/jupyterhub.db"`
	ProxyAPIURL    string   `env:"JUPYTERHUB_PROXY_API_URL"    envDefault:"http://localhost:8001"`
	ProxyAuthToken string   `env:"JUPYTERHUB_PROXY_AUTH_TOKEN"`
	LoginURL       string   `env:"JUPYTERHUB_LOGIN_URL"        envDefault:"/hub/login"`
	AdminUsers     []string `env:"JUPYTERHUB_ADMIN_USERS"      envSeparator:","`
	AllowedUsers   []string `env:"JUPYTERHUB_ALLOWED_USERS"    envSeparator:","`
	SpawnerCommand string   `env:"JUPYTERHUB_SPAWNER_COMMAND"  envDefault:"jupyterhub-singleuser"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	adminUsers := fs.String("admin-users", strings.Join(cfg.AdminUsers, ","), "comma-separated admin user names")
	allowedUsers := fs.String("allowed-users", strings.Join(cfg.AllowedUsers, ","), "comma-separated allowed user names (empty allows everyone)")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "hub listen address")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "hub base URL path prefix")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "hub database path")
	fs.StringVar(&cfg.ProxyAPIURL, "proxy-api-url", cfg.ProxyAPIURL, "routing proxy API URL")
	fs.StringVar(&cfg.ProxyAuthToken, "proxy-auth-token", cfg.ProxyAuthToken, "routing proxy API token")
	fs.StringVar(&cfg.LoginURL, "login-url", cfg.LoginURL, "login endpoint unauthenticated requests redirect to")
	fs.StringVar(&cfg.SpawnerCommand, "spawner-command", cfg.SpawnerCommand, "command that starts a single-user backend")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.AdminUsers = splitList(*adminUsers)
	cfg.AllowedUsers = splitList(*allowedUsers)
	return cfg, nil
}

func splitList(value string) []string {
	var names []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// Run starts the hub server.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "hub")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	return app.Run(ctx, app.Config{
		Addr:           cfg.Addr,
		BaseURL:        cfg.BaseURL,
		DBPath:         cfg.DBPath,
		ProxyAPIURL:    cfg.ProxyAPIURL,
		ProxyAuthToken: cfg.ProxyAuthToken,
		LoginURL:       cfg.LoginURL,
		AdminUsers:     cfg.AdminUsers,
		AllowedUsers:   cfg.AllowedUsers,
		SpawnerCommand: strings.Fields(cfg.SpawnerCommand),
	})
}
