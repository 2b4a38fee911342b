package report

import (
	"github.com/shopspring/decimal"

	"pantry/backend/internal/domain"
)

// ItemSummary is one catalog item over a range. UnitPrice is the price in
// effect on the last day of the range. Under the historical policy Cost may
// combine several prices; MixedPrices is then set and Cost need not equal
// UnitPrice times Quantity.
type ItemSummary struct {
	ItemID      string          `json:"item_id"`
	Name        string          `json:"name"`
	Category    domain.Category `json:"category"`
	Unit        string          `json:"unit"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Cost        decimal.Decimal `json:"cost"`
	MixedPrices bool            `json:"mixed_prices,omitempty"`
	ActiveDays  int             `json:"active_days"`
	EntryCount  int             `json:"entry_count"`
}

// Summary holds one row per catalog item, in catalog order.
// TotalCost is always the sum of the rows' Cost.
type Summary struct {
	Range         Range           `json:"range"`
	Policy        Policy          `json:"policy"`
	Items         []ItemSummary   `json:"items"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	ActiveDays    int             `json:"active_days"`
	EntryCount    int             `json:"entry_count"`
}

func (s Summary) Item(itemID string) (ItemSummary, bool) {
	for _, row := range s.Items {
		if row.ItemID == itemID {
			return row, true
		}
	}
	return ItemSummary{}, false
}

// Summarize validates logs against the catalog and aggregates the ones in r.
func Summarize(catalog []domain.Item, book PriceBook, logs []domain.ConsumptionLog, r Range) (Summary, error) {
	entries, err := parseEntries(logs, indexCatalog(catalog))
	if err != nil {
		return Summary{}, err
	}
	return summarize(catalog, book, inRange(entries, r), r), nil
}

type priceSegment struct {
	price    decimal.Decimal
	quantity int64
}

type itemAccumulator struct {
	quantity int64
	entries  int
	days     map[int64]struct{}
	segments map[string]*priceSegment
}

// summarize expects entries already validated and restricted to r.
// Quantities are summed per unit price as integers and multiplied once per
// segment, so the result does not depend on entry order.
func summarize(catalog []domain.Item, book PriceBook, entries []entry, r Range) Summary {
	accs := make(map[string]*itemAccumulator, len(catalog))
	allDays := make(map[int64]struct{})

	for _, e := range entries {
		acc, ok := accs[e.log.ItemID]
		if !ok {
			acc = &itemAccumulator{
				days:     make(map[int64]struct{}),
				segments: make(map[string]*priceSegment, 1),
			}
			accs[e.log.ItemID] = acc
		}
		dayKey := e.day.Unix()
		acc.quantity += e.log.Quantity
		acc.entries++
		acc.days[dayKey] = struct{}{}
		allDays[dayKey] = struct{}{}

		price := book.On(e.log.ItemID, e.day)
		key := price.String()
		seg, ok := acc.segments[key]
		if !ok {
			seg = &priceSegment{price: price}
			acc.segments[key] = seg
		}
		seg.quantity += e.log.Quantity
	}

	summary := Summary{
		Range:     r,
		Policy:    book.Policy(),
		Items:     make([]ItemSummary, 0, len(catalog)),
		TotalCost: decimal.Zero,
	}
	for _, item := range catalog {
		row := ItemSummary{
			ItemID:    item.ID,
			Name:      item.Name,
			Category:  item.Category,
			Unit:      item.Unit,
			UnitPrice: book.On(item.ID, r.End),
			Cost:      decimal.Zero,
		}
		if acc, ok := accs[item.ID]; ok {
			row.Quantity = acc.quantity
			row.EntryCount = acc.entries
			row.ActiveDays = len(acc.days)
			row.MixedPrices = len(acc.segments) > 1
			for _, seg := range acc.segments {
				row.Cost = row.Cost.Add(seg.price.Mul(decimal.NewFromInt(seg.quantity)))
			}
		}
		summary.Items = append(summary.Items, row)
		summary.TotalQuantity += row.Quantity
		summary.TotalCost = summary.TotalCost.Add(row.Cost)
		summary.EntryCount += row.EntryCount
	}
	summary.ActiveDays = len(allDays)
	return summary
}
