package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"pantry/backend/internal/cache"
	"pantry/backend/internal/domain"
)

// Engine memoizes report results keyed by the query, the pricing policy,
// the location and the snapshot's epoch and versions. A mutation bumps a
// version, so a cached result is never served for changed data.
type Engine struct {
	cache    cache.ReportCache
	cacheTTL time.Duration
	policy   Policy
	loc      *time.Location
	group    singleflight.Group
	log      logrus.FieldLogger
}

func NewEngine(cacheStore cache.ReportCache, cacheTTL time.Duration, policy Policy, loc *time.Location, logger logrus.FieldLogger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if policy == "" {
		policy = PolicyCurrent
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		policy:   policy,
		loc:      loc,
		log:      logger.WithField("module", "report"),
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

// Local converts a reference instant into the engine's location so that
// named periods resolve to the right calendar day.
func (e *Engine) Local(ref time.Time) time.Time {
	return ref.In(e.loc)
}

func (e *Engine) Book(snap domain.Snapshot) PriceBook {
	return NewPriceBook(e.policy, snap.Prices, snap.PriceHistory, e.loc)
}

func (e *Engine) Summary(ctx context.Context, snap domain.Snapshot, r Range) (Summary, error) {
	return memo(ctx, e, snap, []string{"summary", r.String()}, func() (Summary, error) {
		return Summarize(snap.Items, e.Book(snap), snap.Logs, r)
	})
}

func (e *Engine) Series(ctx context.Context, snap domain.Snapshot, r Range, g Granularity) (Series, error) {
	return memo(ctx, e, snap, []string{"series", r.String(), string(g)}, func() (Series, error) {
		return BuildSeries(snap.Items, e.Book(snap), snap.Logs, r, g)
	})
}

func (e *Engine) Invoice(ctx context.Context, snap domain.Snapshot, r Range) (Invoice, error) {
	return memo(ctx, e, snap, []string{"invoice", r.String()}, func() (Invoice, error) {
		return BuildInvoice(snap.Items, e.Book(snap), snap.Logs, r)
	})
}

func (e *Engine) AdminDashboard(ctx context.Context, snap domain.Snapshot, ref time.Time) (AdminDashboard, error) {
	local := e.Local(ref)
	return memo(ctx, e, snap, []string{"admin-dashboard", Day(local).Format(domain.DateLayout)}, func() (AdminDashboard, error) {
		return BuildAdminDashboard(snap.Items, e.Book(snap), snap.Logs, local)
	})
}

func (e *Engine) VendorDashboard(ctx context.Context, snap domain.Snapshot, ref time.Time) (VendorDashboard, error) {
	local := e.Local(ref)
	return memo(ctx, e, snap, []string{"vendor-dashboard", Day(local).Format(domain.DateLayout)}, func() (VendorDashboard, error) {
		return BuildVendorDashboard(snap.Items, e.Book(snap), snap.Logs, local)
	})
}

func (e *Engine) Popularity(ctx context.Context, snap domain.Snapshot, window int) ([]ItemPopularity, error) {
	return memo(ctx, e, snap, []string{"popularity", fmt.Sprintf("w:%d", window)}, func() ([]ItemPopularity, error) {
		return RecentPopularity(snap.Items, e.Book(snap), snap.Logs, window)
	})
}

func (e *Engine) Rows(_ context.Context, snap domain.Snapshot, r Range) ([]LogRow, error) {
	return Rows(snap.Items, e.Book(snap), snap.Logs, r)
}

// memo serves a query from the cache or computes it once for all concurrent
// callers. Every caller decodes its own copy of the payload, so results never
// share backing arrays. Snapshots without an epoch bypass the cache.
func memo[T any](ctx context.Context, e *Engine, snap domain.Snapshot, params []string, compute func() (T, error)) (T, error) {
	var zero T
	if snap.Epoch == "" {
		return compute()
	}

	key := e.cacheKey(snap, params)
	if payload, ok, err := e.cache.Get(ctx, key); err != nil {
		e.log.WithError(err).Warn("report cache get failed")
	} else if ok {
		var cached T
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		e.log.WithField("key", key).Warn("discarding undecodable cached report")
	}

	shared, err, _ := e.group.Do(key, func() (any, error) {
		value, err := compute()
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Set(ctx, key, payload, e.cacheTTL); err != nil {
			e.log.WithError(err).Warn("report cache set failed")
		}
		return payload, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(shared.([]byte), &out); err != nil {
		return zero, err
	}
	return out, nil
}

func (e *Engine) cacheKey(snap domain.Snapshot, params []string) string {
	parts := make([]string, 0, len(params)+5)
	parts = append(parts, params...)
	parts = append(parts,
		"policy:"+string(e.policy),
		"tz:"+e.loc.String(),
		"epoch:"+snap.Epoch,
		fmt.Sprintf("logs:%d", snap.LogsVersion),
		fmt.Sprintf("prices:%d", snap.PricesVersion),
	)

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "pantry:report:" + hex.EncodeToString(hash[:])
}
