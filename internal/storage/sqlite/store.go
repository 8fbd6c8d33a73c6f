package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/platform/id"
	"github.com/gautam20feb/jupyterhub/internal/platform/storage/sqlitemigrate"
	"github.com/gautam20feb/jupyterhub/internal/storage"
	"github.com/gautam20feb/jupyterhub/internal/storage/sqlite/migrations"
	"github.com/gautam20feb/jupyterhub/internal/user"
	_ "modernc.org/sqlite"
)

// tokenBytes is the entropy of a minted token secret.
const tokenBytes = 32

// Store implements hub persistence over SQLite.
//
// A single SQLite file backs identity state so user records and their tokens
// share the same transaction and visibility boundaries.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
	idGen func() (string, error)
}

// Open opens a hub SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, clock: time.Now, idGen: id.NewID}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (s *Store) ensureDB() error {
	if s == nil || s.sqlDB == nil {
		return errors.New("sqlite store is not configured")
	}
	return nil
}

func generateSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GetUser returns the user by name, or storage.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, name string) (user.User, error) {
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}

	var (
		u          user.User
		admin      int
		activity   int64
		baseURL    sql.NullString
		addr       sql.NullString
		cookieName sql.NullString
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT name, admin, last_activity, server_base_url, server_addr, server_cookie_name
		FROM users WHERE name = ?`,
		name,
	).Scan(&u.Name, &admin, &activity, &baseURL, &addr, &cookieName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user %s: %w", name, err)
	}

	u.Admin = admin != 0
	u.LastActivity = fromMillis(activity)
	if baseURL.Valid && addr.Valid && cookieName.Valid {
		u.Server = &user.Server{
			BaseURL:    baseURL.String,
			Addr:       addr.String,
			CookieName: cookieName.String,
		}
	}
	return u, nil
}

// EnsureUser returns the user by name, creating the record on first sight.
func (s *Store) EnsureUser(ctx context.Context, name string, admin bool) (user.User, error) {
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if err := user.ValidateName(name); err != nil {
		return user.User{}, err
	}

	now := toMillis(s.now())
	adminFlag := 0
	if admin {
		adminFlag = 1
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (name, admin, last_activity, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, adminFlag, now, now,
	)
	if err != nil {
		return user.User{}, fmt.Errorf("ensure user %s: %w", name, err)
	}
	return s.GetUser(ctx, name)
}

// UpdateLastActivity records the most recent authenticated activity.
func (s *Store) UpdateLastActivity(ctx context.Context, name string, at time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET last_activity = ? WHERE name = ?`,
		toMillis(at), name,
	)
	if err != nil {
		return fmt.Errorf("update last activity for %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetUserServer stores or clears (nil) the user's backend descriptor.
func (s *Store) SetUserServer(ctx context.Context, name string, srv *user.Server) error {
	if err := s.ensureDB(); err != nil {
		return err
	}

	var (
		baseURL    any
		addr       any
		cookieName any
	)
	if srv != nil {
		baseURL = srv.BaseURL
		addr = srv.Addr
		cookieName = srv.CookieName
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET server_base_url = ?, server_addr = ?, server_cookie_name = ? WHERE name = ?`,
		baseURL, addr, cookieName, name,
	)
	if err != nil {
		return fmt.Errorf("set server for %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateAPIToken mints and stores a new API token secret for the user.
func (s *Store) CreateAPIToken(ctx context.Context, userName string) (string, error) {
	return s.createToken(ctx, "api_tokens", userName)
}

// GetAPIToken returns the token matching secret exactly, or storage.ErrNotFound.
func (s *Store) GetAPIToken(ctx context.Context, secret string) (storage.APIToken, error) {
	token, err := s.getToken(ctx, "api_tokens", secret)
	if err != nil {
		return storage.APIToken{}, err
	}
	return storage.APIToken(token), nil
}

// CreateCookieToken mints and stores a new cookie token secret for the user.
func (s *Store) CreateCookieToken(ctx context.Context, userName string) (string, error) {
	return s.createToken(ctx, "cookie_tokens", userName)
}

// GetCookieToken returns the token matching secret exactly, or storage.ErrNotFound.
func (s *Store) GetCookieToken(ctx context.Context, secret string) (storage.CookieToken, error) {
	token, err := s.getToken(ctx, "cookie_tokens", secret)
	if err != nil {
		return storage.CookieToken{}, err
	}
	return token, nil
}

func (s *Store) createToken(ctx context.Context, table, userName string) (string, error) {
	if err := s.ensureDB(); err != nil {
		return "", err
	}
	secret, err := generateSecret(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO `+table+` (secret, user_name, created_at) VALUES (?, ?, ?)`,
		secret, userName, toMillis(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert token for %s: %w", userName, err)
	}
	return secret, nil
}

func (s *Store) getToken(ctx context.Context, table, secret string) (storage.CookieToken, error) {
	if err := s.ensureDB(); err != nil {
		return storage.CookieToken{}, err
	}
	if secret == "" {
		return storage.CookieToken{}, storage.ErrNotFound
	}

	var (
		token     storage.CookieToken
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT secret, user_name, created_at FROM `+table+` WHERE secret = ?`,
		secret,
	).Scan(&token.Secret, &token.UserName, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CookieToken{}, storage.ErrNotFound
		}
		return storage.CookieToken{}, fmt.Errorf("get token: %w", err)
	}
	token.CreatedAt = fromMillis(createdAt)
	return token, nil
}

// AppendTelemetryEvent records an operational event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	eventID, err := s.idGen()
	if err != nil {
		return fmt.Errorf("generate telemetry event id: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO telemetry_events (id, kind, user_name, detail, timestamp) VALUES (?, ?, ?, ?, ?)`,
		eventID, evt.Kind, evt.UserName, evt.Detail, toMillis(evt.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock()
}
