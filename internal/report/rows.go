package report

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"pantry/backend/internal/domain"
)

type LogRow struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	ItemID    string          `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Unit      string          `json:"unit"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Cost      decimal.Decimal `json:"cost"`
	LoggedBy  string          `json:"logged_by"`
	Type      domain.LogType  `json:"type"`
}

// Rows lists the logs in r with their item details and cost, newest day first.
func Rows(catalog []domain.Item, book PriceBook, logs []domain.ConsumptionLog, r Range) ([]LogRow, error) {
	index := indexCatalog(catalog)
	entries, err := parseEntries(logs, index)
	if err != nil {
		return nil, err
	}
	selected := inRange(entries, r)
	slices.SortStableFunc(selected, func(a, b entry) int {
		if c := b.day.Compare(a.day); c != 0 {
			return c
		}
		return strings.Compare(a.log.ID, b.log.ID)
	})

	rows := make([]LogRow, 0, len(selected))
	for _, e := range selected {
		item := index[e.log.ItemID]
		price := book.On(e.log.ItemID, e.day)
		rows = append(rows, LogRow{
			ID:        e.log.ID,
			Date:      e.log.Date,
			ItemID:    item.ID,
			ItemName:  item.Name,
			Unit:      item.Unit,
			Quantity:  e.log.Quantity,
			UnitPrice: price,
			Cost:      price.Mul(decimal.NewFromInt(e.log.Quantity)),
			LoggedBy:  e.log.LoggedBy,
			Type:      e.log.Type,
		})
	}
	return rows, nil
}
