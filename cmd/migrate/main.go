package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"os"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/saldo-erp/saldo/internal/app"
	"github.com/saldo-erp/saldo/internal/auth"
	"github.com/saldo-erp/saldo/internal/shared"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	adminEmail := flag.String("seed-admin", "", "create an admin user with this email; password is read from SALDO_ADMIN_PASSWORD")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	conn, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		logger.Error("open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close database", slog.Any("error", err))
		}
	}()

	if err := apply(conn, cfg.MigrationsPath, *down, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

	if email := strings.TrimSpace(*adminEmail); email != "" {
		if err := seedAdmin(context.Background(), conn, email, os.Getenv("SALDO_ADMIN_PASSWORD")); err != nil {
			logger.Error("seed admin", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("admin seeded", slog.String("email", email))
	}
}

func apply(conn *sql.DB, source string, down bool, logger *slog.Logger) error {
	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return err
	}
	if down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

func seedAdmin(ctx context.Context, conn *sql.DB, email, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `INSERT INTO users (email, password_hash, role)
VALUES ($1, $2, $3)
ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, updated_at = NOW()`,
		email, hash, string(shared.RoleAdmin))
	return err
}
