package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pantry/backend/internal/cache"
	"pantry/backend/internal/domain"
	"pantry/backend/internal/logging"
)

type countingCache struct {
	mu    sync.Mutex
	inner cache.ReportCache
	hits  int
	sets  int
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok, err := c.inner.Get(ctx, key)
	c.mu.Lock()
	if ok {
		c.hits++
	}
	c.mu.Unlock()
	return val, ok, err
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.inner.Set(ctx, key, value, ttl)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func engineSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Items:  teaCoffee(),
		Prices: priceList("tea", "5", "coffee", "10"),
		Logs: []domain.ConsumptionLog{
			logEntry("l1", "2024-01-01", "tea", 3),
			logEntry("l2", "2024-01-01", "tea", 2),
			logEntry("l3", "2024-01-02", "coffee", 4),
		},
		Epoch:         "test-epoch",
		LogsVersion:   3,
		PricesVersion: 2,
	}
}

func TestEngineMemoizesUntilVersionChanges(t *testing.T) {
	counter := &countingCache{inner: cache.NewLRUReportCache(16, time.Minute)}
	engine := NewEngine(counter, time.Minute, PolicyCurrent, time.UTC, logging.Discard())
	ctx := context.Background()
	snap := engineSnapshot()
	r := mustRange(t, "2024-01-01", "2024-01-31")

	first, err := engine.Summary(ctx, snap, r)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	second, err := engine.Summary(ctx, snap, r)
	if err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if counter.sets != 1 || counter.hits != 1 {
		t.Fatalf("expected one set and one hit, got sets=%d hits=%d", counter.sets, counter.hits)
	}
	if !first.TotalCost.Equal(second.TotalCost) || first.Range.String() != second.Range.String() {
		t.Fatalf("cached summary differs: %+v vs %+v", first, second)
	}
	assertDecimal(t, "cached total", second.TotalCost, "65")

	snap.Logs = append(snap.Logs, logEntry("l4", "2024-01-03", "coffee", 1))
	snap.LogsVersion++
	third, err := engine.Summary(ctx, snap, r)
	if err != nil {
		t.Fatalf("summary after append: %v", err)
	}
	assertDecimal(t, "fresh total", third.TotalCost, "75")
	if counter.sets != 2 {
		t.Fatalf("expected a new cache entry after version bump, got sets=%d", counter.sets)
	}
}

func TestEngineResultsDoNotShareState(t *testing.T) {
	engine := NewEngine(cache.NewLRUReportCache(16, time.Minute), time.Minute, PolicyCurrent, time.UTC, logging.Discard())
	ctx := context.Background()
	snap := engineSnapshot()
	r := mustRange(t, "2024-01-01", "2024-01-31")

	first, _ := engine.Summary(ctx, snap, r)
	first.Items[0].Quantity = 999

	second, err := engine.Summary(ctx, snap, r)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if second.Items[0].Quantity != 5 {
		t.Fatalf("mutating one result leaked into the next: %d", second.Items[0].Quantity)
	}
}

func TestEngineBypassesCacheWithoutEpoch(t *testing.T) {
	counter := &countingCache{inner: cache.NewLRUReportCache(16, time.Minute)}
	engine := NewEngine(counter, time.Minute, PolicyCurrent, time.UTC, logging.Discard())
	snap := engineSnapshot()
	snap.Epoch = ""

	if _, err := engine.Invoice(context.Background(), snap, mustRange(t, "2024-01-01", "2024-01-31")); err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if counter.sets != 0 {
		t.Fatalf("expected no cache writes, got %d", counter.sets)
	}
}

func TestEngineSurvivesCacheFailures(t *testing.T) {
	engine := NewEngine(failingCache{}, time.Minute, PolicyCurrent, time.UTC, logging.Discard())
	s, err := engine.Series(context.Background(), engineSnapshot(), mustRange(t, "2024-01-01", "2024-01-07"), GranularityDay)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(s.Buckets) != 7 {
		t.Fatalf("expected 7 buckets, got %d", len(s.Buckets))
	}
}

func TestEngineDoesNotCacheValidationErrors(t *testing.T) {
	counter := &countingCache{inner: cache.NewLRUReportCache(16, time.Minute)}
	engine := NewEngine(counter, time.Minute, PolicyCurrent, time.UTC, logging.Discard())
	snap := engineSnapshot()
	snap.Logs = append(snap.Logs, logEntry("broken", "yesterday", "tea", 1))

	_, err := engine.Summary(context.Background(), snap, mustRange(t, "2024-01-01", "2024-01-31"))
	if !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if counter.sets != 0 {
		t.Fatalf("expected failed query to stay uncached")
	}
}

func TestEngineDashboardsUseLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	engine := NewEngine(nil, time.Minute, PolicyCurrent, ist, logging.Discard())
	snap := engineSnapshot()
	snap.Logs = append(snap.Logs, logEntry("l5", "2024-02-01", "tea", 7))

	ref := time.Date(2024, time.January, 31, 20, 0, 0, 0, time.UTC)
	d, err := engine.AdminDashboard(context.Background(), snap, ref)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Date != "2024-02-01" || d.Today.TotalQuantity != 7 {
		t.Fatalf("expected IST day 2024-02-01 with qty 7, got %s qty %d", d.Date, d.Today.TotalQuantity)
	}
}
