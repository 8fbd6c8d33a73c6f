// Package hubtoken mints bearer API tokens against the hub database.
package hubtoken

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/gautam20feb/jupyterhub/internal/platform/config"
	"github.com/gautam20feb/jupyterhub/internal/storage/sqlite"
	"github.com/gautam20feb/jupyterhub/internal/user"
)

// Config holds configuration for token minting.
type Config struct {
	DBPath string `env:"JUPYTERHUB_DB_PATH" envDefault:"data/jupyterhub.db"`
	User   string
	Admin  bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "hub database path")
	fs.StringVar(&cfg.User, "user", "", "user name the token authenticates as")
	fs.BoolVar(&cfg.Admin, "admin", false, "mark the user as an admin when creating the record")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints the token and writes the secret to out. The user record is
// created on first sight so tokens can be issued before the first visit.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	if err := user.ValidateName(cfg.User); err != nil {
		return err
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.EnsureUser(ctx, cfg.User, cfg.Admin); err != nil {
		return fmt.Errorf("ensure user %s: %w", cfg.User, err)
	}
	secret, err := store.CreateAPIToken(ctx, cfg.User)
	if err != nil {
		return fmt.Errorf("create token for %s: %w", cfg.User, err)
	}

	_, err = fmt.Fprintln(out, secret)
	return err
}
