package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to dsn with the bun dialect matching driver.
func Open(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite3", "":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil

	case DriverPostgres, "postgresql", "pg":
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates the tables used by the auth module when missing.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*ProfileModel)(nil),
		(*AccountModel)(nil),
		(*RefreshTokenModel)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	if _, err := db.NewCreateIndex().
		Model((*ProfileModel)(nil)).
		Index("profiles_name_idx").
		Column("name").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create profiles name index: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*RefreshTokenModel)(nil)).
		Index("refresh_tokens_account_idx").
		Column("account_id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create refresh tokens account index: %w", err)
	}

	return nil
}
