package report

import (
	"encoding/json"
	"fmt"
	"time"

	"pantry/backend/internal/domain"
)

// Range is an inclusive span of calendar days. Both ends are midnight UTC.
// A range whose Start is after its End is empty.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseDay parses a YYYY-MM-DD calendar day.
func ParseDay(value string) (time.Time, error) {
	day, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return day, nil
}

// Day truncates an instant to its calendar day in the instant's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func NewRange(start, end string) (Range, error) {
	from, err := ParseDay(start)
	if err != nil {
		return Range{}, domain.Invalid("from", start, "expected YYYY-MM-DD")
	}
	to, err := ParseDay(end)
	if err != nil {
		return Range{}, domain.Invalid("to", end, "expected YYYY-MM-DD")
	}
	return Range{Start: from, End: to}, nil
}

func Between(start, end time.Time) Range {
	return Range{Start: Day(start), End: Day(end)}
}

func Today(ref time.Time) Range {
	day := Day(ref)
	return Range{Start: day, End: day}
}

func ThisMonth(ref time.Time) Range {
	return Month(ref, 0)
}

// LastNDays covers n days ending on the reference day, inclusive.
func LastNDays(ref time.Time, n int) Range {
	if n < 1 {
		n = 1
	}
	end := Day(ref)
	return Range{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// Month is the whole calendar month monthsBack months before the reference day.
func Month(ref time.Time, monthsBack int) Range {
	y, m, _ := Day(ref).Date()
	start := time.Date(y, m-time.Month(monthsBack), 1, 0, 0, 0, 0, time.UTC)
	return Range{Start: start, End: start.AddDate(0, 1, -1)}
}

// MonthOf parses YYYY-MM into the whole calendar month.
func MonthOf(value string) (Range, error) {
	start, err := time.Parse("2006-01", value)
	if err != nil {
		return Range{}, domain.Invalid("month", value, "expected YYYY-MM")
	}
	return Range{Start: start, End: start.AddDate(0, 1, -1)}, nil
}

// Week is the Monday-to-Sunday week containing the reference day.
func Week(ref time.Time) Range {
	start := WeekStart(Day(ref))
	return Range{Start: start, End: start.AddDate(0, 0, 6)}
}

// WeekStart returns the Monday on or before day.
func WeekStart(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return Day(day).AddDate(0, 0, -offset)
}

func (r Range) Empty() bool {
	return r.Start.After(r.End)
}

func (r Range) Contains(day time.Time) bool {
	if r.Empty() {
		return false
	}
	return !day.Before(r.Start) && !day.After(r.End)
}

// Days is the number of calendar days covered, zero for an empty range.
func (r Range) Days() int {
	if r.Empty() {
		return 0
	}
	return daysBetween(r.Start, r.End) + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(domain.DateLayout), r.End.Format(domain.DateLayout))
}

type rangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal(rangeJSON{
		Start: r.Start.Format(domain.DateLayout),
		End:   r.End.Format(domain.DateLayout),
		Days:  r.Days(),
	})
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var raw rangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewRange(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
