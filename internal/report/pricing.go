package report

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pantry/backend/internal/domain"
)

// Policy decides which unit price a log entry is costed at.
//
// PolicyCurrent prices every entry at the item's current price, whatever the
// entry's date. PolicyHistorical prices each entry at the price in effect on
// its date, taken from the price-change history: the last change on or before
// that date, or the old price of the first change when the date precedes all
// of them. Items without any recorded change fall back to the current price.
type Policy string

const (
	PolicyCurrent    Policy = "current"
	PolicyHistorical Policy = "historical"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyCurrent:
		return PolicyCurrent, nil
	case PolicyHistorical:
		return PolicyHistorical, nil
	default:
		return "", fmt.Errorf("unknown pricing policy %q", value)
	}
}

type pricePoint struct {
	day      time.Time
	oldPrice decimal.Decimal
	newPrice decimal.Decimal
}

type PriceBook struct {
	policy  Policy
	current map[string]decimal.Decimal
	changes map[string][]pricePoint
}

// NewPriceBook indexes prices and history. Change timestamps are bucketed
// into calendar days in loc; a nil loc means UTC.
func NewPriceBook(policy Policy, prices []domain.Price, history []domain.PriceChange, loc *time.Location) PriceBook {
	if loc == nil {
		loc = time.UTC
	}
	book := PriceBook{
		policy:  policy,
		current: make(map[string]decimal.Decimal, len(prices)),
		changes: make(map[string][]pricePoint),
	}
	for _, p := range prices {
		book.current[p.ItemID] = nonNegative(p.Price)
	}
	if policy != PolicyHistorical {
		return book
	}

	ordered := slices.Clone(history)
	slices.SortStableFunc(ordered, func(a, b domain.PriceChange) int {
		return a.ChangedAt.Compare(b.ChangedAt)
	})
	for _, change := range ordered {
		book.changes[change.ItemID] = append(book.changes[change.ItemID], pricePoint{
			day:      Day(change.ChangedAt.In(loc)),
			oldPrice: nonNegative(change.OldPrice),
			newPrice: nonNegative(change.NewPrice),
		})
	}
	return book
}

func (b PriceBook) Policy() Policy {
	if b.policy == "" {
		return PolicyCurrent
	}
	return b.policy
}

// Current is the item's current price, zero when none has been set.
func (b PriceBook) Current(itemID string) decimal.Decimal {
	if price, ok := b.current[itemID]; ok {
		return price
	}
	return decimal.Zero
}

func (b PriceBook) On(itemID string, day time.Time) decimal.Decimal {
	if b.policy != PolicyHistorical {
		return b.Current(itemID)
	}
	points := b.changes[itemID]
	if len(points) == 0 {
		return b.Current(itemID)
	}
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].day.After(day)
	})
	if idx == 0 {
		return points[0].oldPrice
	}
	return points[idx-1].newPrice
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
