package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pantry/backend/internal/domain"
)

const (
	trendHighAbove    = 20
	trendMediumAbove  = 10
	highDemandAbove   = 50
	lowStockBelow     = 5
	PopularityWindow  = 10
	DefaultReportDays = 30
)

type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

func TrendLevel(quantity int64) Level {
	switch {
	case quantity > trendHighAbove:
		return LevelHigh
	case quantity > trendMediumAbove:
		return LevelMedium
	default:
		return LevelLow
	}
}

type AlertKind string

const (
	AlertHighDemand AlertKind = "high-demand"
	AlertLowStock   AlertKind = "low-stock"
)

type Alert struct {
	Kind     AlertKind `json:"kind"`
	ItemID   string    `json:"item_id"`
	Name     string    `json:"name"`
	Quantity int64     `json:"quantity"`
	Message  string    `json:"message"`
}

type AdminDashboard struct {
	Date  string  `json:"date"`
	Today Summary `json:"today"`
	Week  Series  `json:"week"`
	Month Summary `json:"month"`
}

type VendorItem struct {
	ItemSummary
	Trend Level `json:"trend"`
}

type VendorDashboard struct {
	Date          string          `json:"date"`
	Month         Range           `json:"month"`
	Items         []VendorItem    `json:"items"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	Alerts        []Alert         `json:"alerts"`
}

type ItemPopularity struct {
	ItemID         string          `json:"item_id"`
	Name           string          `json:"name"`
	Unit           string          `json:"unit"`
	Price          decimal.Decimal `json:"price"`
	RecentQuantity int64           `json:"recent_quantity"`
	RecentEntries  int             `json:"recent_entries"`
	Popularity     Level           `json:"popularity"`
}

// BuildAdminDashboard reports today, the Monday-based week as day buckets and
// the calendar month, all resolved against the same reference instant.
func BuildAdminDashboard(catalog []domain.Item, book PriceBook, logs []domain.ConsumptionLog, ref time.Time) (AdminDashboard, error) {
	entries, err := parseEntries(logs, indexCatalog(catalog))
	if err != nil {
		return AdminDashboard{}, err
	}
	today := Today(ref)
	week := Week(ref)
	month := ThisMonth(ref)
	return AdminDashboard{
		Date:  today.Start.Format(domain.DateLayout),
		Today: summarize(catalog, book, inRange(entries, today), today),
		Week:  series(catalog, book, inRange(entries, week), week, GranularityDay),
		Month: summarize(catalog, book, inRange(entries, month), month),
	}, nil
}

func BuildVendorDashboard(catalog []domain.Item, book PriceBook, logs []domain.ConsumptionLog, ref time.Time) (VendorDashboard, error) {
	month := ThisMonth(ref)
	summary, err := Summarize(catalog, book, logs, month)
	if err != nil {
		return VendorDashboard{}, err
	}

	out := VendorDashboard{
		Date:          Day(ref).Format(domain.DateLayout),
		Month:         month,
		Items:         make([]VendorItem, 0, len(summary.Items)),
		TotalQuantity: summary.TotalQuantity,
		TotalRevenue:  summary.TotalCost,
		Alerts:        make([]Alert, 0),
	}
	for _, row := range summary.Items {
		out.Items = append(out.Items, VendorItem{ItemSummary: row, Trend: TrendLevel(row.Quantity)})
		switch {
		case row.Quantity > highDemandAbove:
			out.Alerts = append(out.Alerts, Alert{
				Kind:     AlertHighDemand,
				ItemID:   row.ItemID,
				Name:     row.Name,
				Quantity: row.Quantity,
				Message:  fmt.Sprintf("%s is in high demand (%d %s this month)", row.Name, row.Quantity, row.Unit),
			})
		case row.Quantity < lowStockBelow:
			out.Alerts = append(out.Alerts, Alert{
				Kind:     AlertLowStock,
				ItemID:   row.ItemID,
				Name:     row.Name,
				Quantity: row.Quantity,
				Message:  fmt.Sprintf("%s has low consumption (%d %s this month)", row.Name, row.Quantity, row.Unit),
			})
		}
	}
	return out, nil
}

// RecentPopularity rates each item by its last window log entries, in the
// order the logs were recorded.
func RecentPopularity(catalog []domain.Item, book PriceBook, logs []domain.ConsumptionLog, window int) ([]ItemPopularity, error) {
	if window < 1 {
		window = PopularityWindow
	}
	entries, err := parseEntries(logs, indexCatalog(catalog))
	if err != nil {
		return nil, err
	}
	byItem := make(map[string][]entry, len(catalog))
	for _, e := range entries {
		byItem[e.log.ItemID] = append(byItem[e.log.ItemID], e)
	}

	out := make([]ItemPopularity, 0, len(catalog))
	for _, item := range catalog {
		recent := byItem[item.ID]
		if len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		var qty int64
		for _, e := range recent {
			qty += e.log.Quantity
		}
		out = append(out, ItemPopularity{
			ItemID:         item.ID,
			Name:           item.Name,
			Unit:           item.Unit,
			Price:          book.Current(item.ID),
			RecentQuantity: qty,
			RecentEntries:  len(recent),
			Popularity:     TrendLevel(qty),
		})
	}
	return out, nil
}
