package report

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"pantry/backend/internal/domain"
)

// InvoiceLine carries UnitPrice and MixedPrices over from ItemSummary: when
// MixedPrices is set the line was billed at more than one price and Total is
// the sum of those segments.
type InvoiceLine struct {
	ItemID      string          `json:"item_id"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
	MixedPrices bool            `json:"mixed_prices,omitempty"`
	ActiveDays  int             `json:"active_days"`
}

type Invoice struct {
	Month         string          `json:"month,omitempty"`
	Range         Range           `json:"range"`
	Policy        Policy          `json:"policy"`
	Lines         []InvoiceLine   `json:"lines"`
	TotalQuantity int64           `json:"total_quantity"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	ActiveDays    int             `json:"active_days"`
	EntryCount    int             `json:"entry_count"`
}

func (inv Invoice) IsEmpty() bool {
	return len(inv.Lines) == 0
}

func BuildInvoice(catalog []domain.Item, book PriceBook, logs []domain.ConsumptionLog, r Range) (Invoice, error) {
	summary, err := Summarize(catalog, book, logs, r)
	if err != nil {
		return Invoice{}, err
	}
	return AssembleInvoice(summary), nil
}

// AssembleInvoice keeps the items with a nonzero quantity, highest total
// first and item id ascending on ties. GrandTotal is the sum of the lines.
func AssembleInvoice(s Summary) Invoice {
	inv := Invoice{
		Month:      monthLabel(s.Range),
		Range:      s.Range,
		Policy:     s.Policy,
		Lines:      make([]InvoiceLine, 0, len(s.Items)),
		GrandTotal: decimal.Zero,
		ActiveDays: s.ActiveDays,
		EntryCount: s.EntryCount,
	}
	for _, row := range s.Items {
		if row.Quantity == 0 {
			continue
		}
		inv.Lines = append(inv.Lines, InvoiceLine{
			ItemID:      row.ItemID,
			Name:        row.Name,
			Unit:        row.Unit,
			Quantity:    row.Quantity,
			UnitPrice:   row.UnitPrice,
			Total:       row.Cost,
			MixedPrices: row.MixedPrices,
			ActiveDays:  row.ActiveDays,
		})
	}
	slices.SortFunc(inv.Lines, func(a, b InvoiceLine) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	for _, line := range inv.Lines {
		inv.TotalQuantity += line.Quantity
		inv.GrandTotal = inv.GrandTotal.Add(line.Total)
	}
	return inv
}

func monthLabel(r Range) string {
	if r.Empty() || r.Start.Day() != 1 {
		return ""
	}
	if !r.End.Equal(r.Start.AddDate(0, 1, -1)) {
		return ""
	}
	return r.Start.Format("2006-01")
}
