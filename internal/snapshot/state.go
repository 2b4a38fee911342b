package snapshot

import (
	"fmt"
	"time"

	"pantry/backend/internal/domain"
	"pantry/backend/internal/store"
)

// Validate reports the first log id that appears twice.
func (st State) Validate() error {
	seen := make(map[string]struct{}, len(st.Logs))
	for _, entry := range st.Logs {
		if _, dup := seen[entry.ID]; dup {
			return fmt.Errorf("%w: duplicate log id %s in snapshot", store.ErrInvalidRecord, entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}
	return nil
}

// PriceTable returns one price per catalog item in catalog order. A stored
// price wins; items without one keep their entry from defaults. Stored prices
// for items outside the catalog are dropped.
func (st State) PriceTable(defaults []domain.Price) []domain.Price {
	stored := make(map[string]domain.Price, len(st.Prices))
	for _, p := range st.Prices {
		stored[p.ItemID] = p
	}
	table := make([]domain.Price, 0, len(defaults))
	for _, p := range defaults {
		if s, ok := stored[p.ItemID]; ok {
			p = s
		}
		table = append(table, p)
	}
	return table
}

// Snapshot builds an uncached report input over the default catalog, priced
// the same way a restored memory store prices it.
func (st State) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		Items:        domain.DefaultCatalog(),
		Prices:       st.PriceTable(store.DefaultPrices(time.Time{})),
		PriceHistory: st.PriceHistory,
		Logs:         st.Logs,
	}
}
