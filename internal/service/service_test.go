package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pantry/backend/internal/cache"
	"pantry/backend/internal/domain"
	"pantry/backend/internal/logging"
	"pantry/backend/internal/report"
	"pantry/backend/internal/store/memory"
)

var fixedNow = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewEmpty()
	engine := report.NewEngine(cache.NewLRUReportCache(64, time.Minute), time.Minute, report.PolicyCurrent, time.UTC, logging.Discard())
	svc := New(repo, engine, logging.Discard()).WithClock(func() time.Time { return fixedNow })
	return svc, repo
}

func adminCtx() context.Context {
	return WithSession(context.Background(), domain.Session{ID: "s-admin", Username: "admin", Role: domain.RoleAdmin})
}

func vendorCtx() context.Context {
	return WithSession(context.Background(), domain.Session{ID: "s-vendor", Username: "vendor", Role: domain.RoleVendor})
}

func logDay(t *testing.T, svc *Service, date string, lines ...domain.LogLine) domain.LogConsumptionResponse {
	t.Helper()
	resp, err := svc.LogConsumption(adminCtx(), domain.LogConsumptionRequest{
		Date:  date,
		Type:  domain.LogTypeDaily,
		Items: lines,
	})
	if err != nil {
		t.Fatalf("log consumption %s: %v", date, err)
	}
	return resp
}

func TestLogConsumptionSkipsZeroLines(t *testing.T) {
	svc, repo := newTestService()

	resp := logDay(t, svc, "2024-03-14",
		domain.LogLine{ItemID: "tea", Quantity: 3},
		domain.LogLine{ItemID: "coffee", Quantity: 0},
		domain.LogLine{ItemID: "snacks", Quantity: 2},
	)
	if len(resp.Logs) != 2 || resp.Skipped != 1 || resp.TotalQuantity != 5 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Logs[0].LoggedBy != "admin" || resp.Logs[0].Type != domain.LogTypeDaily {
		t.Fatalf("expected admin daily entry, got %+v", resp.Logs[0])
	}

	audit, _ := repo.ListAuditLogs(context.Background(), time.Time{}, time.Time{}, 10)
	if len(audit) != 1 || audit[0].Action != "consumption_log" {
		t.Fatalf("expected one audit entry, got %+v", audit)
	}
}

func TestLogConsumptionRejectsInvalidRequests(t *testing.T) {
	svc, repo := newTestService()
	cases := map[string]domain.LogConsumptionRequest{
		"items[1].item_id": {Date: "2024-03-14", Type: domain.LogTypeDaily, Items: []domain.LogLine{{ItemID: "tea", Quantity: 1}, {ItemID: "cake", Quantity: 1}}},
		"items":            {Date: "2024-03-14", Type: domain.LogTypeDaily, Items: []domain.LogLine{{ItemID: "tea", Quantity: 0}}},
		"date":             {Date: "14/03/2024", Type: domain.LogTypeDaily, Items: []domain.LogLine{{ItemID: "tea", Quantity: 1}}},
		"type":             {Date: "2024-03-14", Type: "hourly", Items: []domain.LogLine{{ItemID: "tea", Quantity: 1}}},
		"items[0].quantity": {Date: "2024-03-14", Type: domain.LogTypeDaily, Items: []domain.LogLine{{ItemID: "tea", Quantity: -1}}},
	}
	for field, req := range cases {
		_, err := svc.LogConsumption(adminCtx(), req)
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
		if vErr.Field != field {
			t.Fatalf("expected field %q, got %q (%v)", field, vErr.Field, vErr)
		}
	}

	snap, _ := repo.Snapshot(context.Background())
	if len(snap.Logs) != 0 {
		t.Fatalf("rejected batches must not store anything, got %d logs", len(snap.Logs))
	}
}

func TestRolesAreEnforced(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.LogConsumption(vendorCtx(), domain.LogConsumptionRequest{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("vendor must not log consumption, got %v", err)
	}
	if _, err := svc.UpdatePrices(adminCtx(), domain.PriceUpdateRequest{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin must not update prices, got %v", err)
	}
	if _, err := svc.Invoice(adminCtx(), "", 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin must not generate invoices, got %v", err)
	}
	if _, err := svc.Summary(vendorCtx(), ReportQuery{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("vendor must not read admin reports, got %v", err)
	}
	if _, err := svc.ListItems(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous callers must be rejected, got %v", err)
	}
}

func TestUpdatePricesReportsDeltaAndAudits(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.UpdatePrices(vendorCtx(), domain.PriceUpdateRequest{Prices: []domain.PriceInput{
		{ItemID: "tea", Price: decimal.NewFromInt(7)},
		{ItemID: "coffee", Price: decimal.NewFromInt(10)},
	}})
	if err != nil {
		t.Fatalf("update prices: %v", err)
	}
	tea, coffee := resp.Results[0], resp.Results[1]
	if !tea.Changed || !tea.Delta.Equal(decimal.NewFromInt(2)) || !tea.OldPrice.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected tea result %+v", tea)
	}
	if coffee.Changed || !coffee.Delta.IsZero() {
		t.Fatalf("unchanged coffee should report no change, got %+v", coffee)
	}

	history, err := svc.ListPriceHistory(vendorCtx(), "tea", 0)
	if err != nil || len(history) != 1 || history[0].ChangedBy != "vendor" {
		t.Fatalf("unexpected history %+v %v", history, err)
	}
	audit, _ := repo.ListAuditLogs(context.Background(), time.Time{}, time.Time{}, 10)
	if len(audit) != 1 || audit[0].EntityID != "tea" {
		t.Fatalf("expected audit only for the real change, got %+v", audit)
	}
}

func TestUpdatePricesValidatesWholeBatchFirst(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.UpdatePrices(vendorCtx(), domain.PriceUpdateRequest{Prices: []domain.PriceInput{
		{ItemID: "tea", Price: decimal.NewFromInt(9)},
		{ItemID: "coffee", Price: decimal.NewFromInt(-1)},
	}})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "prices[1].price" {
		t.Fatalf("expected negative price rejected, got %v", err)
	}
	prices, _ := repo.ListPrices(context.Background())
	if !prices[0].Price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("tea price must be untouched, got %s", prices[0].Price)
	}

	_, err = svc.UpdatePrices(vendorCtx(), domain.PriceUpdateRequest{Prices: []domain.PriceInput{{ItemID: "cake", Price: decimal.NewFromInt(1)}}})
	if !errors.As(err, &vErr) || vErr.Field != "prices[0].item_id" {
		t.Fatalf("expected unknown item rejected, got %v", err)
	}
}

func TestSummaryPeriods(t *testing.T) {
	svc, _ := newTestService()
	logDay(t, svc, "2024-03-15", domain.LogLine{ItemID: "tea", Quantity: 2})
	logDay(t, svc, "2024-03-01", domain.LogLine{ItemID: "coffee", Quantity: 1})
	logDay(t, svc, "2024-02-20", domain.LogLine{ItemID: "snacks", Quantity: 1})

	cases := []struct {
		query ReportQuery
		total string
	}{
		{ReportQuery{Period: PeriodToday}, "10"},
		{ReportQuery{Period: PeriodThisMonth}, "20"},
		{ReportQuery{}, "50"},
		{ReportQuery{Period: PeriodLastNDays, Days: 14}, "10"},
		{ReportQuery{Period: PeriodMonth, MonthsBack: 1}, "30"},
		{ReportQuery{Month: "2024-02"}, "30"},
		{ReportQuery{From: "2024-02-20", To: "2024-03-01"}, "40"},
	}
	for _, tc := range cases {
		s, err := svc.Summary(adminCtx(), tc.query)
		if err != nil {
			t.Fatalf("%+v: %v", tc.query, err)
		}
		if !s.TotalCost.Equal(decimal.RequireFromString(tc.total)) {
			t.Fatalf("%+v: expected total %s, got %s", tc.query, tc.total, s.TotalCost)
		}
	}

	for _, bad := range []ReportQuery{
		{Period: "fortnight"},
		{Period: PeriodLastNDays, Days: 400},
		{From: "2024-03-01"},
		{From: "2023-01-01", To: "2024-03-01"},
	} {
		if _, err := svc.Summary(adminCtx(), bad); !errors.Is(err, domain.ErrInvalid) {
			t.Fatalf("%+v: expected validation error, got %v", bad, err)
		}
	}
}

func TestSeriesByWeek(t *testing.T) {
	svc, _ := newTestService()
	logDay(t, svc, "2024-03-04", domain.LogLine{ItemID: "tea", Quantity: 1})
	logDay(t, svc, "2024-03-11", domain.LogLine{ItemID: "tea", Quantity: 2})

	s, err := svc.Series(adminCtx(), ReportQuery{Period: PeriodThisMonth}, "week")
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(s.Buckets) != 5 {
		t.Fatalf("expected 5 week buckets in March 2024, got %d", len(s.Buckets))
	}
	if _, err := svc.Series(adminCtx(), ReportQuery{}, "hour"); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected unknown granularity rejected, got %v", err)
	}
}

func TestInvoiceCarriesDocumentFields(t *testing.T) {
	svc, _ := newTestService()
	logDay(t, svc, "2024-02-10", domain.LogLine{ItemID: "biscuits", Quantity: 3})

	doc, err := svc.Invoice(vendorCtx(), "", 1)
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if doc.Month != "2024-02" || doc.GeneratedBy != "vendor" || doc.ID == "" || !doc.GeneratedAt.Equal(fixedNow) {
		t.Fatalf("unexpected invoice header %+v", doc.InvoiceRecord)
	}
	if len(doc.Lines) != 1 || !doc.GrandTotal.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("unexpected invoice body %+v", doc.Invoice)
	}

	if _, err := svc.Invoice(vendorCtx(), "", 4); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected months back above 3 rejected, got %v", err)
	}
	byMonth, err := svc.Invoice(vendorCtx(), "2023-12", 0)
	if err != nil || !byMonth.IsEmpty() {
		t.Fatalf("expected empty December invoice, got %+v %v", byMonth, err)
	}
}

func TestDashboardsAndInsights(t *testing.T) {
	svc, _ := newTestService()
	logDay(t, svc, "2024-03-15", domain.LogLine{ItemID: "tea", Quantity: 60}, domain.LogLine{ItemID: "coffee", Quantity: 2})

	admin, err := svc.AdminDashboard(adminCtx())
	if err != nil {
		t.Fatalf("admin dashboard: %v", err)
	}
	if admin.Date != "2024-03-15" || admin.Today.TotalQuantity != 62 {
		t.Fatalf("unexpected admin dashboard %+v", admin.Today)
	}

	vendor, err := svc.VendorDashboard(vendorCtx())
	if err != nil {
		t.Fatalf("vendor dashboard: %v", err)
	}
	kinds := map[report.AlertKind]int{}
	for _, alert := range vendor.Alerts {
		kinds[alert.Kind]++
	}
	if kinds[report.AlertHighDemand] != 1 || kinds[report.AlertLowStock] != 3 {
		t.Fatalf("unexpected alerts %+v", vendor.Alerts)
	}

	insights, err := svc.PriceInsights(vendorCtx())
	if err != nil {
		t.Fatalf("insights: %v", err)
	}
	if insights[0].ItemID != "tea" || insights[0].Popularity != report.LevelHigh {
		t.Fatalf("unexpected insights %+v", insights[0])
	}
}

func TestListLogsFiltersRows(t *testing.T) {
	svc, _ := newTestService()
	logDay(t, svc, "2024-03-10", domain.LogLine{ItemID: "tea", Quantity: 1}, domain.LogLine{ItemID: "coffee", Quantity: 1})
	logDay(t, svc, "2024-03-12", domain.LogLine{ItemID: "tea", Quantity: 4})

	rows, err := svc.ListLogs(adminCtx(), ReportQuery{Period: PeriodThisMonth}, "tea", 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(rows) != 2 || rows[0].Date != "2024-03-12" || !rows[0].Cost.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestSettingsPatchAndValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendorCtx()

	defaults, err := svc.GetSettings(ctx)
	if err != nil || defaults.Account.Email != "vendor@pantry.local" {
		t.Fatalf("expected vendor defaults, got %+v %v", defaults.Account, err)
	}

	dark := "dark"
	updated, err := svc.UpdateSettings(ctx, domain.SettingsPatch{Appearance: &domain.AppearancePatch{Theme: &dark}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Appearance.Theme != "dark" || updated.Appearance.Language != "en" {
		t.Fatalf("patch should only change the theme, got %+v", updated.Appearance)
	}

	neon := "neon"
	_, err = svc.UpdateSettings(ctx, domain.SettingsPatch{Appearance: &domain.AppearancePatch{Theme: &neon}})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "appearance.theme" {
		t.Fatalf("expected theme validation error, got %v", err)
	}
	again, _ := svc.GetSettings(ctx)
	if again.Appearance.Theme != "dark" {
		t.Fatalf("rejected patch must not be saved, got %q", again.Appearance.Theme)
	}
}

func TestListAuditLogsByDay(t *testing.T) {
	svc, _ := newTestService()
	logDay(t, svc, "2024-03-14", domain.LogLine{ItemID: "tea", Quantity: 1})

	entries, err := svc.ListAuditLogs(adminCtx(), "2024-03-15", 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry on 2024-03-15, got %+v %v", entries, err)
	}
	if _, err := svc.ListAuditLogs(adminCtx(), "yesterday", 0); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected bad date rejected, got %v", err)
	}
}

func TestListAuditLogsUsesReportLocationForDay(t *testing.T) {
	wib := time.FixedZone("WIB", 7*60*60)
	// 20:00 UTC on the 15th is 03:00 on the 16th in WIB
	lateUTC := time.Date(2024, time.March, 15, 20, 0, 0, 0, time.UTC)
	engine := report.NewEngine(nil, time.Minute, report.PolicyCurrent, wib, logging.Discard())
	svc := New(memory.NewEmpty(), engine, logging.Discard()).WithClock(func() time.Time { return lateUTC })
	logDay(t, svc, "2024-03-16", domain.LogLine{ItemID: "tea", Quantity: 1})

	entries, err := svc.ListAuditLogs(adminCtx(), "2024-03-16", 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected the entry on local 2024-03-16, got %+v %v", entries, err)
	}
	entries, err = svc.ListAuditLogs(adminCtx(), "2024-03-15", 0)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected nothing on local 2024-03-15, got %+v %v", entries, err)
	}
}
