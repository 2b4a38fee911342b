package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pantry/backend/internal/domain"
)

type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// WeekStartsOn is fixed; week buckets always begin on Monday.
const WeekStartsOn = "monday"

func ParseGranularity(value string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(value))) {
	case "", GranularityDay:
		return GranularityDay, nil
	case GranularityWeek:
		return GranularityWeek, nil
	case GranularityMonth:
		return GranularityMonth, nil
	default:
		return "", domain.Invalid("granularity", value, "expected day, week or month")
	}
}

type Bucket struct {
	Range         Range           `json:"range"`
	Label         string          `json:"label"`
	Items         []ItemSummary   `json:"items"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

type Series struct {
	Range         Range           `json:"range"`
	Granularity   Granularity     `json:"granularity"`
	WeekStart     string          `json:"week_start"`
	Policy        Policy          `json:"policy"`
	Buckets       []Bucket        `json:"buckets"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

// Partition splits r into contiguous buckets of the given granularity. The
// first and last buckets are clipped to r, so every day lands in exactly one.
func Partition(r Range, g Granularity) []Range {
	if r.Empty() {
		return []Range{}
	}
	out := make([]Range, 0, r.Days())
	for start := r.Start; !start.After(r.End); {
		var next time.Time
		switch g {
		case GranularityWeek:
			next = WeekStart(start).AddDate(0, 0, 7)
		case GranularityMonth:
			next = time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		default:
			next = start.AddDate(0, 0, 1)
		}
		end := next.AddDate(0, 0, -1)
		if end.After(r.End) {
			end = r.End
		}
		out = append(out, Range{Start: start, End: end})
		start = next
	}
	return out
}

func BuildSeries(catalog []domain.Item, book PriceBook, logs []domain.ConsumptionLog, r Range, g Granularity) (Series, error) {
	entries, err := parseEntries(logs, indexCatalog(catalog))
	if err != nil {
		return Series{}, err
	}
	return series(catalog, book, inRange(entries, r), r, g), nil
}

func series(catalog []domain.Item, book PriceBook, entries []entry, r Range, g Granularity) Series {
	bounds := Partition(r, g)
	grouped := make([][]entry, len(bounds))
	for _, e := range entries {
		idx := sort.Search(len(bounds), func(i int) bool {
			return !bounds[i].End.Before(e.day)
		})
		if idx < len(bounds) && bounds[idx].Contains(e.day) {
			grouped[idx] = append(grouped[idx], e)
		}
	}

	out := Series{
		Range:       r,
		Granularity: g,
		WeekStart:   WeekStartsOn,
		Policy:      book.Policy(),
		Buckets:     make([]Bucket, 0, len(bounds)),
		TotalCost:   decimal.Zero,
	}
	for i, bound := range bounds {
		s := summarize(catalog, book, grouped[i], bound)
		out.Buckets = append(out.Buckets, Bucket{
			Range:         bound,
			Label:         bucketLabel(bound, g),
			Items:         s.Items,
			TotalQuantity: s.TotalQuantity,
			TotalCost:     s.TotalCost,
		})
		out.TotalQuantity += s.TotalQuantity
		out.TotalCost = out.TotalCost.Add(s.TotalCost)
	}
	return out
}

func bucketLabel(r Range, g Granularity) string {
	switch g {
	case GranularityWeek:
		year, week := r.Start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case GranularityMonth:
		return r.Start.Format("2006-01")
	default:
		return r.Start.Format(domain.DateLayout)
	}
}
