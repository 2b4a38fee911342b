package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pantry/backend/internal/domain"
)

const (
	StateKey        = "pantry_state"
	LegacyPricesKey = "pantry_prices"
	LegacyLogsKey   = "pantry_logs"

	CurrentVersion = 2
)

var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// State is everything the memory store persists between restarts.
type State struct {
	Prices       []domain.Price             `json:"prices"`
	PriceHistory []domain.PriceChange       `json:"price_history"`
	Logs         []domain.ConsumptionLog    `json:"logs"`
	Settings     map[string]domain.Settings `json:"settings,omitempty"`
	AuditLogs    []domain.AuditLog          `json:"audit_logs,omitempty"`
}

// envelope covers every stored layout. Version 1 kept the browser-era
// prices and logs arrays side by side; version 2 nests a State.
type envelope struct {
	Version int             `json:"version"`
	SavedAt *time.Time      `json:"saved_at,omitempty"`
	State   json.RawMessage `json:"state,omitempty"`
	Prices  json.RawMessage `json:"prices,omitempty"`
	Logs    json.RawMessage `json:"logs,omitempty"`
}

type legacyPrice struct {
	ItemID    string      `json:"itemId"`
	Price     json.Number `json:"price"`
	UpdatedAt string      `json:"updatedAt"`
	UpdatedBy string      `json:"updatedBy"`
}

type legacyLog struct {
	ID       string      `json:"id"`
	Date     string      `json:"date"`
	ItemID   string      `json:"itemId"`
	Quantity json.Number `json:"quantity"`
	LoggedBy string      `json:"loggedBy"`
	Type     string      `json:"type"`
}

func Encode(state State, savedAt time.Time) ([]byte, error) {
	body, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	savedAt = savedAt.UTC()
	return json.Marshal(envelope{Version: CurrentVersion, SavedAt: &savedAt, State: body})
}

// Decode reads any supported layout and returns the state in the current
// shape together with the version it was stored as.
func Decode(data []byte) (State, int, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return State{}, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	switch {
	case env.Version > CurrentVersion:
		return State{}, env.Version, fmt.Errorf("%w: %d (newest known is %d)", ErrUnsupportedVersion, env.Version, CurrentVersion)
	case env.Version == CurrentVersion:
		var state State
		if len(env.State) > 0 {
			if err := json.Unmarshal(env.State, &state); err != nil {
				return State{}, env.Version, fmt.Errorf("decode snapshot state: %w", err)
			}
		}
		return state, env.Version, nil
	case env.Version == 1:
		state, err := upgradeV1(env.Prices, env.Logs)
		return state, env.Version, err
	default:
		return State{}, env.Version, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
}

// UpgradeLegacy converts the two unversioned browser blobs. Either may be nil.
func UpgradeLegacy(prices []byte, logs []byte) (State, error) {
	return upgradeV1(prices, logs)
}

func upgradeV1(rawPrices json.RawMessage, rawLogs json.RawMessage) (State, error) {
	var prices []legacyPrice
	if len(rawPrices) > 0 {
		if err := json.Unmarshal(rawPrices, &prices); err != nil {
			return State{}, fmt.Errorf("decode legacy prices: %w", err)
		}
	}
	var logs []legacyLog
	if len(rawLogs) > 0 {
		if err := json.Unmarshal(rawLogs, &logs); err != nil {
			return State{}, fmt.Errorf("decode legacy logs: %w", err)
		}
	}

	state := State{
		Prices:       make([]domain.Price, 0, len(prices)),
		PriceHistory: []domain.PriceChange{},
		Logs:         make([]domain.ConsumptionLog, 0, len(logs)),
	}
	for _, p := range prices {
		price, err := convertPrice(p)
		if err != nil {
			return State{}, err
		}
		state.Prices = append(state.Prices, price)
	}
	seen := make(map[string]struct{}, len(logs))
	for i, l := range logs {
		entry, err := convertLog(i, l)
		if err != nil {
			return State{}, err
		}
		entry.ID = uniqueLogID(seen, entry.ID, i)
		seen[entry.ID] = struct{}{}
		state.Logs = append(state.Logs, entry)
	}
	return state, nil
}

// uniqueLogID renames a repeated id to <id>-<index>. The browser client gave
// every item saved in one batch the same timestamp id.
func uniqueLogID(seen map[string]struct{}, id string, index int) string {
	if _, dup := seen[id]; !dup {
		return id
	}
	candidate := fmt.Sprintf("%s-%d", id, index)
	for n := 1; ; n++ {
		if _, dup := seen[candidate]; !dup {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d-%d", id, index, n)
	}
}

func convertPrice(p legacyPrice) (domain.Price, error) {
	record := "price:" + p.ItemID
	if strings.TrimSpace(p.ItemID) == "" {
		return domain.Price{}, domain.InvalidRecord(record, "itemId", "", "is required")
	}
	value, err := decimal.NewFromString(p.Price.String())
	if err != nil {
		return domain.Price{}, domain.InvalidRecord(record, "price", p.Price.String(), "is not a number")
	}
	updatedAt, _ := time.Parse(time.RFC3339, p.UpdatedAt)
	return domain.Price{
		ItemID:    p.ItemID,
		Price:     value,
		UpdatedAt: updatedAt.UTC(),
		UpdatedBy: p.UpdatedBy,
	}, nil
}

func convertLog(index int, l legacyLog) (domain.ConsumptionLog, error) {
	id := strings.TrimSpace(l.ID)
	if id == "" {
		id = fmt.Sprintf("legacy-%d", index)
	}
	if strings.TrimSpace(l.ItemID) == "" {
		return domain.ConsumptionLog{}, domain.InvalidRecord(id, "itemId", "", "is required")
	}

	quantity, err := decimal.NewFromString(l.Quantity.String())
	if err != nil || !quantity.IsInteger() || quantity.IsNegative() {
		return domain.ConsumptionLog{}, domain.InvalidRecord(id, "quantity", l.Quantity.String(), "must be a non-negative whole number")
	}

	date := l.Date
	if cut := strings.IndexByte(date, 'T'); cut > 0 {
		date = date[:cut]
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return domain.ConsumptionLog{}, domain.InvalidRecord(id, "date", l.Date, "must be YYYY-MM-DD")
	}

	logType := domain.LogType(l.Type)
	switch logType {
	case domain.LogTypePerVisit, domain.LogTypeDaily:
	case "":
		logType = domain.LogTypeDaily
	default:
		return domain.ConsumptionLog{}, domain.InvalidRecord(id, "type", l.Type, "must be per-visit or daily")
	}

	return domain.ConsumptionLog{
		ID:       id,
		Date:     date,
		ItemID:   l.ItemID,
		Quantity: quantity.IntPart(),
		LoggedBy: l.LoggedBy,
		Type:     logType,
	}, nil
}
