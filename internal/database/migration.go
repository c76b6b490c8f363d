package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/vendalog/marketsync/internal/config"
)

// migrationsSource is resolved against the working directory, which is
// the repository root both in the container image and in local runs.
const migrationsSource = "file://db/migrations"

// RunMigrations applies pending schema migrations before the server
// starts accepting webhooks.
func RunMigrations(cfg *config.DatabaseConfig, logger *zap.Logger) error {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)

	m, err := migrate.New(migrationsSource, dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch err := m.Up(); {
	case err == nil:
		logger.Info("Database migrations applied",
			zap.String("source", migrationsSource),
		)
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Database schema already up to date")
	default:
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
