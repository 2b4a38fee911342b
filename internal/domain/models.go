package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

type Category string

const (
	CategoryBeverage Category = "beverage"
	CategorySnack    Category = "snack"
)

type LogType string

const (
	LogTypePerVisit LogType = "per-visit"
	LogTypeDaily    LogType = "daily"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleVendor Role = "vendor"
)

type Item struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Unit     string   `json:"unit"`
}

// ConsumptionLog is an append-only fact. Date is a calendar day in DateLayout.
type ConsumptionLog struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	ItemID    string    `json:"item_id"`
	Quantity  int64     `json:"quantity"`
	LoggedBy  string    `json:"logged_by"`
	Type      LogType   `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type Price struct {
	ItemID    string          `json:"item_id"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by"`
}

type PriceChange struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

// Snapshot is a point-in-time copy of every collection a report reads.
// Epoch identifies the backing store instance; the versions grow on every
// mutation of logs and prices respectively.
type Snapshot struct {
	Items         []Item           `json:"items"`
	Prices        []Price          `json:"prices"`
	PriceHistory  []PriceChange    `json:"price_history"`
	Logs          []ConsumptionLog `json:"logs"`
	Epoch         string           `json:"epoch"`
	LogsVersion   int64            `json:"logs_version"`
	PricesVersion int64            `json:"prices_version"`
}

type LogFilter struct {
	From   string
	To     string
	ItemID string
	Limit  int
}

type LogLine struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gte=0"`
}

type LogConsumptionRequest struct {
	Date  string    `json:"date" validate:"required,datetime=2006-01-02"`
	Type  LogType   `json:"type" validate:"required,oneof=per-visit daily"`
	Items []LogLine `json:"items" validate:"required,min=1,dive"`
}

type LogConsumptionResponse struct {
	Logs          []ConsumptionLog `json:"logs"`
	TotalQuantity int64            `json:"total_quantity"`
	Skipped       int              `json:"skipped"`
}

type PriceInput struct {
	ItemID string          `json:"item_id" validate:"required"`
	Price  decimal.Decimal `json:"price"`
}

type PriceUpdateRequest struct {
	Prices []PriceInput `json:"prices" validate:"required,min=1,dive"`
}

type PriceUpdateResult struct {
	ItemID   string          `json:"item_id"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
	Delta    decimal.Decimal `json:"delta"`
	Changed  bool            `json:"changed"`
}

type PriceUpdateResponse struct {
	Results   []PriceUpdateResult `json:"results"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	SessionID   string `json:"session_id"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      Role
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     Role      `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// InvoiceRecord identifies one generated invoice document.
type InvoiceRecord struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	GeneratedBy string    `json:"generated_by"`
}
