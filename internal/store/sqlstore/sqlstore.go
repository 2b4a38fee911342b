// Package sqlstore implements store.Repository over database/sql. Queries use
// $n placeholders, each bound once and in ascending order, so the same text
// runs on postgres and sqlite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pantry/backend/internal/domain"
	"pantry/backend/internal/store"
	"pantry/backend/internal/xid"
)

type Dialect struct {
	Name   string
	Schema []string
	// ReadTx is used for snapshots; WriteTx for multi-statement writes.
	ReadTx            *sql.TxOptions
	WriteTx           *sql.TxOptions
	IsUniqueViolation func(error) bool

	// IsRetryable marks errors after which a write transaction is run again
	// from the start, such as serialization failures.
	IsRetryable func(error) bool
}

const (
	maxWriteAttempts = 3
	writeRetryDelay  = 15 * time.Millisecond
)

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema and seeds the catalog, default prices and the
// instance epoch. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.dialect.Name, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, s.dialect.WriteTx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pantry_meta (key, value) VALUES ('epoch', $1)
		ON CONFLICT (key) DO NOTHING
	`, xid.New("db")); err != nil {
		return err
	}
	for i, item := range domain.DefaultCatalog() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, name, category, unit, position)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO NOTHING
		`, item.ID, item.Name, string(item.Category), item.Unit, i); err != nil {
			return err
		}
	}
	for _, p := range store.DefaultPrices(time.Now()) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prices (item_id, price, updated_at, updated_by)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (item_id) DO NOTHING
		`, p.ItemID, p.Price, p.UpdatedAt, p.UpdatedBy); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SeedUsers inserts accounts that do not exist yet.
func (s *Store) SeedUsers(ctx context.Context, users []domain.UserAccount) error {
	for _, user := range users {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO users (username, password, role, active, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (username) DO NOTHING
		`, user.Username, user.Password, string(user.Role), user.Active, user.CreatedAt.UTC()); err != nil {
			return err
		}
	}
	return nil
}

// SeedSampleLogs appends logs only when the log table is empty.
func (s *Store) SeedSampleLogs(ctx context.Context, logs []domain.ConsumptionLog) (bool, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consumption_logs`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	return true, s.AppendLogs(ctx, logs)
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	return listItems(ctx, s.db)
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	var category string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, unit
		FROM items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &category, &item.Unit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.Category = domain.Category(category)
	return &item, nil
}

func (s *Store) ListPrices(ctx context.Context) ([]domain.Price, error) {
	return listPrices(ctx, s.db)
}

// withWriteTx runs fn in a WriteTx transaction and commits. fn may run more
// than once when the dialect reports the failure as retryable, so it must not
// keep state from an earlier attempt.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = s.runWriteTx(ctx, fn)
		if err == nil || s.dialect.IsRetryable == nil || !s.dialect.IsRetryable(err) {
			return err
		}
		if attempt == maxWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * writeRetryDelay):
		}
	}
	return fmt.Errorf("%s write gave up after %d attempts: %w", s.dialect.Name, maxWriteAttempts, err)
}

func (s *Store) runWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.WriteTx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpsertPrice(ctx context.Context, price domain.Price) (domain.PriceChange, bool, error) {
	if price.UpdatedAt.IsZero() {
		price.UpdatedAt = time.Now().UTC()
	}

	var change domain.PriceChange
	changed := false
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		changed = false
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = $1`, price.ItemID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		change = domain.PriceChange{
			ItemID:    price.ItemID,
			NewPrice:  price.Price,
			ChangedBy: price.UpdatedBy,
			ChangedAt: price.UpdatedAt.UTC(),
		}
		err = tx.QueryRowContext(ctx, `SELECT price FROM prices WHERE item_id = $1`, price.ItemID).Scan(&change.OldPrice)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case change.OldPrice.Equal(price.Price):
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prices (item_id, price, updated_at, updated_by)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (item_id) DO UPDATE
			SET price = excluded.price, updated_at = excluded.updated_at, updated_by = excluded.updated_by
		`, price.ItemID, price.Price, change.ChangedAt, price.UpdatedBy); err != nil {
			return err
		}

		change.ID = xid.New("pc")
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_changes (id, item_id, old_price, new_price, changed_by, changed_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, change.ID, change.ItemID, change.OldPrice, change.NewPrice, change.ChangedBy, change.ChangedAt); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return domain.PriceChange{}, false, err
	}
	return change, changed, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, itemID string, limit int) ([]domain.PriceChange, error) {
	query := `
		SELECT id, item_id, old_price, new_price, changed_by, changed_at
		FROM price_changes`
	args := make([]any, 0, 2)
	if itemID != "" {
		args = append(args, itemID)
		query += fmt.Sprintf(" WHERE item_id = $%d", len(args))
	}
	query += " ORDER BY changed_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return queryPriceChanges(ctx, s.db, query, args...)
}

func (s *Store) AppendLogs(ctx context.Context, logs []domain.ConsumptionLog) error {
	if len(logs) == 0 {
		return nil
	}

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		items, err := listItems(ctx, tx)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(items))
		for _, item := range items {
			known[item.ID] = struct{}{}
		}

		for _, entry := range logs {
			if strings.TrimSpace(entry.ID) == "" {
				return fmt.Errorf("%w: log id is required", store.ErrInvalidRecord)
			}
			if _, ok := known[entry.ItemID]; !ok {
				return fmt.Errorf("%w: unknown item %s", store.ErrInvalidRecord, entry.ItemID)
			}
			createdAt := entry.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO consumption_logs (id, log_date, item_id, quantity, logged_by, log_type, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, entry.ID, entry.Date, entry.ItemID, entry.Quantity, entry.LoggedBy, string(entry.Type), createdAt.UTC()); err != nil {
				if s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
					return store.ErrConflict
				}
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListLogs(ctx context.Context, filter domain.LogFilter) ([]domain.ConsumptionLog, error) {
	query := `
		SELECT id, log_date, item_id, quantity, logged_by, log_type, created_at
		FROM consumption_logs`
	conds := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.From != "" {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("log_date >= $%d", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("log_date <= $%d", len(args)))
	}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		conds = append(conds, fmt.Sprintf("item_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY log_date DESC, created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return queryLogs(ctx, s.db, query, args...)
}

// Snapshot reads every collection inside one read-only transaction. The
// versions are row counts of the append-only logs and price_changes tables.
func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, s.dialect.ReadTx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var snap domain.Snapshot
	if err := tx.QueryRowContext(ctx, `SELECT value FROM pantry_meta WHERE key = 'epoch'`).Scan(&snap.Epoch); err != nil {
		return domain.Snapshot{}, fmt.Errorf("read epoch: %w", err)
	}
	if snap.Items, err = listItems(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Prices, err = listPrices(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.PriceHistory, err = queryPriceChanges(ctx, tx, `
		SELECT id, item_id, old_price, new_price, changed_by, changed_at
		FROM price_changes
		ORDER BY changed_at, id
	`); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Logs, err = queryLogs(ctx, tx, `
		SELECT id, log_date, item_id, quantity, logged_by, log_type, created_at
		FROM consumption_logs
		ORDER BY created_at, id
	`); err != nil {
		return domain.Snapshot{}, err
	}
	snap.LogsVersion = int64(len(snap.Logs))
	snap.PricesVersion = int64(len(snap.PriceHistory))

	if err := tx.Commit(); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) GetSettings(ctx context.Context, username string) (*domain.Settings, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM user_settings WHERE username = $1
	`, strings.ToLower(username)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var settings domain.Settings
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", username, err)
	}
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, username string, settings domain.Settings) error {
	key := strings.ToLower(strings.TrimSpace(username))
	if key == "" {
		return fmt.Errorf("%w: username is required", store.ErrInvalidRecord)
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (username, payload, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (username) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at
	`, key, string(payload), time.Now().UTC())
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, string(entry.ActorRole), entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	query := `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs`
	conds := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if !from.IsZero() {
		args = append(args, from.UTC())
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		var role string
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &role, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.ActorRole = domain.Role(role)
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrInvalidRecord)
	}
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, string(user.Role), true, user.CreatedAt.UTC())
	if err != nil && s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		var role string
		if err := rows.Scan(&user.Username, &user.Password, &role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Role = domain.Role(role)
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrInvalidRecord)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $1 WHERE username = $2`, password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listItems(ctx context.Context, q querier) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, category, unit
		FROM items
		ORDER BY position, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 8)
	for rows.Next() {
		var item domain.Item
		var category string
		if err := rows.Scan(&item.ID, &item.Name, &category, &item.Unit); err != nil {
			return nil, err
		}
		item.Category = domain.Category(category)
		items = append(items, item)
	}
	return items, rows.Err()
}

func listPrices(ctx context.Context, q querier) ([]domain.Price, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.item_id, p.price, p.updated_at, p.updated_by
		FROM prices p
		JOIN items i ON i.id = p.item_id
		ORDER BY i.position, p.item_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make([]domain.Price, 0, 8)
	for rows.Next() {
		var p domain.Price
		if err := rows.Scan(&p.ItemID, &p.Price, &p.UpdatedAt, &p.UpdatedBy); err != nil {
			return nil, err
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

func queryPriceChanges(ctx context.Context, q querier, query string, args ...any) ([]domain.PriceChange, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PriceChange, 0, 16)
	for rows.Next() {
		var c domain.PriceChange
		if err := rows.Scan(&c.ID, &c.ItemID, &c.OldPrice, &c.NewPrice, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, err
		}
		c.ChangedAt = c.ChangedAt.UTC()
		result = append(result, c)
	}
	return result, rows.Err()
}

func queryLogs(ctx context.Context, q querier, query string, args ...any) ([]domain.ConsumptionLog, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.ConsumptionLog, 0, 256)
	for rows.Next() {
		var entry domain.ConsumptionLog
		var logType string
		if err := rows.Scan(&entry.ID, &entry.Date, &entry.ItemID, &entry.Quantity, &entry.LoggedBy, &logType, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Type = domain.LogType(logType)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

var _ store.Repository = (*Store)(nil)
