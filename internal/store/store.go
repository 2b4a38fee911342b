package store

import (
	"context"
	"errors"
	"time"

	"pantry/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidRecord = errors.New("invalid record")
)

type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)

	ListPrices(ctx context.Context) ([]domain.Price, error)
	// UpsertPrice sets the item's current price. The returned change always
	// carries the old and new values; changed is false when they are equal,
	// in which case nothing is written to the history.
	UpsertPrice(ctx context.Context, price domain.Price) (change domain.PriceChange, changed bool, err error)
	ListPriceHistory(ctx context.Context, itemID string, limit int) ([]domain.PriceChange, error)

	// AppendLogs stores all logs or none of them.
	AppendLogs(ctx context.Context, logs []domain.ConsumptionLog) error
	ListLogs(ctx context.Context, filter domain.LogFilter) ([]domain.ConsumptionLog, error)

	Snapshot(ctx context.Context) (domain.Snapshot, error)

	GetSettings(ctx context.Context, username string) (*domain.Settings, error)
	SaveSettings(ctx context.Context, username string, settings domain.Settings) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
