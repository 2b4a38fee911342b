package service

import (
	"context"
	"fmt"
	"strings"

	"pantry/backend/internal/domain"
	"pantry/backend/internal/report"
	"pantry/backend/internal/xid"
)

const (
	PeriodToday     = "today"
	PeriodThisMonth = "this_month"
	PeriodLastNDays = "last_n_days"
	PeriodMonth     = "month"

	maxReportDays        = 366
	maxInvoiceMonthsBack = 3
)

// ReportQuery selects the period of a report. An explicit From/To pair wins
// over Period; an empty query means the last DefaultReportDays days.
type ReportQuery struct {
	Period     string `json:"period"`
	Days       int    `json:"days"`
	Month      string `json:"month"`
	MonthsBack int    `json:"months_back"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type InvoiceDocument struct {
	domain.InvoiceRecord
	report.Invoice
}

// ResolveRange turns q into a calendar range, resolving named periods against
// the service clock in the engine's location.
func (s *Service) ResolveRange(q ReportQuery) (report.Range, error) {
	if q.From != "" || q.To != "" {
		if q.From == "" || q.To == "" {
			return report.Range{}, domain.Invalid("from", q.From, "from and to must be given together")
		}
		r, err := report.NewRange(q.From, q.To)
		if err != nil {
			return report.Range{}, err
		}
		if r.Days() > maxReportDays {
			return report.Range{}, domain.Invalid("to", q.To, fmt.Sprintf("range must not exceed %d days", maxReportDays))
		}
		return r, nil
	}

	ref := s.engine.Local(s.now())
	period := strings.ToLower(strings.TrimSpace(q.Period))
	if period == "" && q.Month != "" {
		period = PeriodMonth
	}
	switch period {
	case PeriodToday:
		return report.Today(ref), nil
	case PeriodThisMonth:
		return report.ThisMonth(ref), nil
	case "", PeriodLastNDays:
		days := q.Days
		if days == 0 {
			days = report.DefaultReportDays
		}
		if days < 1 || days > maxReportDays {
			return report.Range{}, domain.Invalid("days", fmt.Sprint(q.Days), fmt.Sprintf("must be between 1 and %d", maxReportDays))
		}
		return report.LastNDays(ref, days), nil
	case PeriodMonth:
		if q.Month != "" {
			return report.MonthOf(q.Month)
		}
		if q.MonthsBack < 0 {
			return report.Range{}, domain.Invalid("months_back", fmt.Sprint(q.MonthsBack), "must not be negative")
		}
		return report.Month(ref, q.MonthsBack), nil
	default:
		return report.Range{}, domain.Invalid("period", q.Period, "expected today, this_month, last_n_days or month")
	}
}

func (s *Service) Summary(ctx context.Context, q ReportQuery) (report.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "Summary")
	defer span.End()

	if _, err := s.authorize(ctx, domain.RoleAdmin); err != nil {
		return report.Summary{}, err
	}
	r, err := s.ResolveRange(q)
	if err != nil {
		return report.Summary{}, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return report.Summary{}, s.fail(span, "Summary", err)
	}
	result, err := s.engine.Summary(ctx, snap, r)
	if err != nil {
		return report.Summary{}, s.fail(span, "Summary", err)
	}
	return result, nil
}

func (s *Service) Series(ctx context.Context, q ReportQuery, granularity string) (report.Series, error) {
	ctx, span := s.tracer.Start(ctx, "Series")
	defer span.End()

	if _, err := s.authorize(ctx, domain.RoleAdmin); err != nil {
		return report.Series{}, err
	}
	g, err := report.ParseGranularity(granularity)
	if err != nil {
		return report.Series{}, err
	}
	r, err := s.ResolveRange(q)
	if err != nil {
		return report.Series{}, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return report.Series{}, s.fail(span, "Series", err)
	}
	result, err := s.engine.Series(ctx, snap, r, g)
	if err != nil {
		return report.Series{}, s.fail(span, "Series", err)
	}
	return result, nil
}

// ListLogs returns costed log rows for the period, newest day first.
func (s *Service) ListLogs(ctx context.Context, q ReportQuery, itemID string, limit int) ([]report.LogRow, error) {
	ctx, span := s.tracer.Start(ctx, "ListLogs")
	defer span.End()

	if _, err := s.authorize(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	r, err := s.ResolveRange(q)
	if err != nil {
		return nil, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, s.fail(span, "ListLogs", err)
	}
	rows, err := s.engine.Rows(ctx, snap, r)
	if err != nil {
		return nil, s.fail(span, "ListLogs", err)
	}

	itemID = strings.TrimSpace(itemID)
	limit = clampLimit(limit, 200, 5000)
	result := make([]report.LogRow, 0, min(len(rows), limit))
	for _, row := range rows {
		if itemID != "" && row.ItemID != itemID {
			continue
		}
		result = append(result, row)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// Invoice bills a whole calendar month: month as YYYY-MM, or monthsBack
// months before the current one when month is empty.
func (s *Service) Invoice(ctx context.Context, month string, monthsBack int) (InvoiceDocument, error) {
	ctx, span := s.tracer.Start(ctx, "Invoice")
	defer span.End()

	session, err := s.authorize(ctx, domain.RoleVendor)
	if err != nil {
		return InvoiceDocument{}, err
	}

	var r report.Range
	if strings.TrimSpace(month) != "" {
		if r, err = report.MonthOf(strings.TrimSpace(month)); err != nil {
			return InvoiceDocument{}, err
		}
	} else {
		if monthsBack < 0 || monthsBack > maxInvoiceMonthsBack {
			return InvoiceDocument{}, domain.Invalid("months_back", fmt.Sprint(monthsBack), fmt.Sprintf("must be between 0 and %d", maxInvoiceMonthsBack))
		}
		r = report.Month(s.engine.Local(s.now()), monthsBack)
	}

	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return InvoiceDocument{}, s.fail(span, "Invoice", err)
	}
	inv, err := s.engine.Invoice(ctx, snap, r)
	if err != nil {
		return InvoiceDocument{}, s.fail(span, "Invoice", err)
	}

	doc := InvoiceDocument{
		InvoiceRecord: domain.InvoiceRecord{
			ID:          xid.New("inv"),
			GeneratedAt: s.now().UTC(),
			GeneratedBy: session.Username,
		},
		Invoice: inv,
	}
	s.logAudit(ctx, "invoice_generate", "invoice", doc.ID,
		fmt.Sprintf("month=%s,lines=%d,total=%s", inv.Month, len(inv.Lines), money(inv.GrandTotal)))
	return doc, nil
}

func (s *Service) AdminDashboard(ctx context.Context) (report.AdminDashboard, error) {
	ctx, span := s.tracer.Start(ctx, "AdminDashboard")
	defer span.End()

	if _, err := s.authorize(ctx, domain.RoleAdmin); err != nil {
		return report.AdminDashboard{}, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return report.AdminDashboard{}, s.fail(span, "AdminDashboard", err)
	}
	result, err := s.engine.AdminDashboard(ctx, snap, s.now())
	if err != nil {
		return report.AdminDashboard{}, s.fail(span, "AdminDashboard", err)
	}
	return result, nil
}

func (s *Service) VendorDashboard(ctx context.Context) (report.VendorDashboard, error) {
	ctx, span := s.tracer.Start(ctx, "VendorDashboard")
	defer span.End()

	if _, err := s.authorize(ctx, domain.RoleVendor); err != nil {
		return report.VendorDashboard{}, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return report.VendorDashboard{}, s.fail(span, "VendorDashboard", err)
	}
	result, err := s.engine.VendorDashboard(ctx, snap, s.now())
	if err != nil {
		return report.VendorDashboard{}, s.fail(span, "VendorDashboard", err)
	}
	return result, nil
}
