package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pantry/backend/internal/store/sqlstore"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pantry_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		unit TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS prices (
		item_id TEXT PRIMARY KEY REFERENCES items(id),
		price NUMERIC(14,4) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS price_changes (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		old_price NUMERIC(14,4) NOT NULL,
		new_price NUMERIC(14,4) NOT NULL,
		changed_by TEXT NOT NULL DEFAULT '',
		changed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_changes_item_idx ON price_changes (item_id, changed_at)`,
	`CREATE TABLE IF NOT EXISTS consumption_logs (
		id TEXT PRIMARY KEY,
		log_date TEXT NOT NULL,
		item_id TEXT NOT NULL REFERENCES items(id),
		quantity BIGINT NOT NULL CHECK (quantity >= 0),
		logged_by TEXT NOT NULL DEFAULT '',
		log_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS consumption_logs_date_idx ON consumption_logs (log_date)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		username TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Schema:            schema,
	ReadTx:            &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	WriteTx:           &sql.TxOptions{Isolation: sql.LevelSerializable},
	IsUniqueViolation: isUniqueViolation,
	IsRetryable:       isSerializationFailure,
}

// New connects to databaseURL and applies the schema.
func New(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := sqlstore.New(db, Dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
