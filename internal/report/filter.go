package report

import (
	"fmt"
	"strconv"
	"time"

	"pantry/backend/internal/domain"
)

type entry struct {
	log domain.ConsumptionLog
	day time.Time
}

// Filter returns the logs whose date falls inside r, keeping input order.
// Every log is validated first, so one malformed record fails the call.
func Filter(logs []domain.ConsumptionLog, r Range) ([]domain.ConsumptionLog, error) {
	entries, err := parseEntries(logs, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConsumptionLog, 0, len(entries))
	for _, e := range inRange(entries, r) {
		out = append(out, e.log)
	}
	return out, nil
}

// Validate checks every log against the catalog without aggregating.
func Validate(catalog []domain.Item, logs []domain.ConsumptionLog) error {
	_, err := parseEntries(logs, indexCatalog(catalog))
	return err
}

// parseEntries validates logs and attaches parsed days. A nil catalog skips
// the item membership check.
func parseEntries(logs []domain.ConsumptionLog, catalog map[string]domain.Item) ([]entry, error) {
	entries := make([]entry, 0, len(logs))
	for i, log := range logs {
		record := log.ID
		if record == "" {
			record = fmt.Sprintf("#%d", i)
		}
		day, err := ParseDay(log.Date)
		if err != nil {
			return nil, domain.InvalidRecord(record, "date", log.Date, "expected YYYY-MM-DD")
		}
		if log.Quantity < 0 {
			return nil, domain.InvalidRecord(record, "quantity", strconv.FormatInt(log.Quantity, 10), "must not be negative")
		}
		if catalog != nil {
			if _, ok := catalog[log.ItemID]; !ok {
				return nil, domain.InvalidRecord(record, "item_id", log.ItemID, "unknown item")
			}
		}
		entries = append(entries, entry{log: log, day: day})
	}
	return entries, nil
}

func inRange(entries []entry, r Range) []entry {
	if r.Empty() {
		return nil
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		if r.Contains(e.day) {
			out = append(out, e)
		}
	}
	return out
}

func indexCatalog(catalog []domain.Item) map[string]domain.Item {
	index := make(map[string]domain.Item, len(catalog))
	for _, item := range catalog {
		index[item.ID] = item
	}
	return index
}
