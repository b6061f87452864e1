// Package app wires the database, storage, notifier and services from
// configuration and seeds the data every deployment needs.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"compliancehub/internal/blob"
	"compliancehub/internal/config"
	"compliancehub/internal/db"
	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
	"compliancehub/internal/engine/auth"
	"compliancehub/internal/jobs"
	"compliancehub/internal/migrate"
	"compliancehub/internal/notify"
	"compliancehub/internal/report"
	"compliancehub/internal/repo"
)

// Services holds every wired component for one process.
type Services struct {
	DB       *sql.DB
	Config   *config.Config
	Env      config.Env
	Engine   engine.Engine
	Auth     auth.Service
	Reports  report.Service
	Notifier *notify.Client
	Jobs     jobs.Runner
	Log      *log.Logger
}

// NewLogger builds a logrus logger. format is "json" or "text".
func NewLogger(level, format string) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log format must be json or text, got %q", format)
	}
	return logger, nil
}

// OpenBlobStore returns the store selected by storage.driver.
func OpenBlobStore(ctx context.Context, cfg *config.Config, env config.Env) (blob.Store, error) {
	switch cfg.Storage.Driver {
	case "azure":
		if err := env.ValidateAzure(); err != nil {
			return nil, err
		}
		store, err := blob.NewAzureStore(blob.AzureConfig{
			ServiceURL: env.AzureServiceURL(),
			Account:    env.AzureAccount,
			Key:        env.AzureKey,
			Container:  env.AzureContainer,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureContainer(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return blob.NewMemStore(env.AzureContainer), nil
	}
}

// Build opens and migrates the database, then wires the services on top of it.
func Build(ctx context.Context, env config.Env, cfg *config.Config, logger *log.Logger) (*Services, error) {
	conn, err := db.Open(db.Config{Path: env.DatabasePath})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	s, err := Wire(ctx, conn, env, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Wire builds the services over an already migrated connection.
func Wire(ctx context.Context, conn *sql.DB, env config.Env, cfg *config.Config, logger *log.Logger) (*Services, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	blobs, err := OpenBlobStore(ctx, cfg, env)
	if err != nil {
		return nil, err
	}
	if _, ok := blobs.(*blob.MemStore); ok {
		logger.WithField("storage_driver", cfg.Storage.Driver).
			Warn("document contents are kept in memory and lost on restart; set storage.driver to azure")
	}
	notifier := notify.New(notify.Config{
		EmailValidationURL: env.LogicAppEmailURL,
		PasswordResetURL:   env.LogicAppResetURL,
		AlertURL:           env.LogicAppAlertURL,
	}, logger)
	gdb, err := report.Open(conn)
	if err != nil {
		return nil, fmt.Errorf("open report db: %w", err)
	}
	e := engine.New(conn, cfg, blobs, logger.WithField("component", "engine"))
	s := &Services{
		DB:       conn,
		Config:   cfg,
		Env:      env,
		Engine:   e,
		Auth:     auth.NewService(conn, cfg, env.JWTSecret, env.FrontendURL, notifier, logger.WithField("component", "auth")),
		Reports:  report.New(gdb),
		Notifier: notifier,
		Jobs:     jobs.Runner{Engine: e, Alerts: notifier, Log: logger.WithField("component", "jobs")},
		Log:      logger,
	}
	if err := SeedRoles(ctx, e.Repo, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) Close() error {
	return s.DB.Close()
}

// SeedRoles makes sure every role named by the config exists.
func SeedRoles(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, name := range cfg.Roles() {
		if _, err := r.EnsureRole(ctx, tx, name); err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// EnsureAdmin creates a verified user with the first admin role unless the
// email is already registered. created reports whether a user was inserted.
func EnsureAdmin(ctx context.Context, svc auth.Service, name, email, password string) (domain.User, bool, error) {
	if u, err := svc.Repo.GetUserByEmail(ctx, svc.DB, email); err == nil {
		return u, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, false, err
	}
	if len(svc.Config.Auth.AdminRoles) == 0 {
		return domain.User{}, false, errors.New("no admin role configured")
	}
	u, err := svc.CreateUser(ctx, auth.UserInput{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     svc.Config.Auth.AdminRoles[0],
	}, true)
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}
