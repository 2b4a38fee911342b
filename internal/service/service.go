package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pantry/backend/internal/domain"
	"pantry/backend/internal/logging"
	"pantry/backend/internal/report"
	"pantry/backend/internal/store"
	"pantry/backend/internal/xid"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

type sessionContextKey struct{}

func WithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(domain.Session)
	return session, ok
}

type Service struct {
	repo     store.Repository
	engine   *report.Engine
	validate *validator.Validate
	log      logrus.FieldLogger
	tracer   trace.Tracer
	now      func() time.Time
}

func New(repo store.Repository, engine *report.Engine, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		validate: newValidator(),
		log:      logger.WithField("module", "service"),
		tracer:   otel.Tracer("pantry/service"),
		now:      time.Now,
	}
}

// WithClock replaces the reference clock used to resolve named periods.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx)
}

func (s *Service) ListPrices(ctx context.Context) ([]domain.Price, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListPrices(ctx)
}

// UpdatePrices applies a batch of price changes. Every line is checked before
// any is written.
func (s *Service) UpdatePrices(ctx context.Context, req domain.PriceUpdateRequest) (domain.PriceUpdateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "UpdatePrices")
	defer span.End()

	session, err := s.authorize(ctx, domain.RoleVendor)
	if err != nil {
		return domain.PriceUpdateResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.PriceUpdateResponse{}, err
	}

	seen := make(map[string]struct{}, len(req.Prices))
	for i, line := range req.Prices {
		field := fmt.Sprintf("prices[%d]", i)
		if line.Price.IsNegative() {
			return domain.PriceUpdateResponse{}, domain.Invalid(field+".price", line.Price.String(), "must not be negative")
		}
		if _, dup := seen[line.ItemID]; dup {
			return domain.PriceUpdateResponse{}, domain.Invalid(field+".item_id", line.ItemID, "appears more than once")
		}
		seen[line.ItemID] = struct{}{}
		if _, err := s.repo.GetItem(ctx, line.ItemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.PriceUpdateResponse{}, domain.Invalid(field+".item_id", line.ItemID, "unknown item")
			}
			return domain.PriceUpdateResponse{}, s.fail(span, "UpdatePrices", err)
		}
	}

	now := s.now().UTC()
	resp := domain.PriceUpdateResponse{
		Results:   make([]domain.PriceUpdateResult, 0, len(req.Prices)),
		UpdatedAt: now,
	}
	for _, line := range req.Prices {
		change, changed, err := s.repo.UpsertPrice(ctx, domain.Price{
			ItemID:    line.ItemID,
			Price:     line.Price,
			UpdatedAt: now,
			UpdatedBy: session.Username,
		})
		if err != nil {
			return domain.PriceUpdateResponse{}, s.fail(span, "UpdatePrices", err)
		}
		delta := change.NewPrice.Sub(change.OldPrice)
		resp.Results = append(resp.Results, domain.PriceUpdateResult{
			ItemID:   line.ItemID,
			OldPrice: change.OldPrice,
			NewPrice: change.NewPrice,
			Delta:    delta,
			Changed:  changed,
		})
		if changed {
			s.logAudit(ctx, "price_update", "price", line.ItemID,
				fmt.Sprintf("old=%s,new=%s,delta=%s", change.OldPrice, change.NewPrice, delta))
		}
	}
	span.SetAttributes(attribute.Int("prices.count", len(resp.Results)))
	return resp, nil
}

func (s *Service) ListPriceHistory(ctx context.Context, itemID string, limit int) ([]domain.PriceChange, error) {
	if _, err := s.authorize(ctx, domain.RoleVendor); err != nil {
		return nil, err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID != "" {
		if _, err := s.repo.GetItem(ctx, itemID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListPriceHistory(ctx, itemID, clampLimit(limit, 50, 500))
}

// PriceInsights reports each item's current price with its popularity over
// the most recent log entries.
func (s *Service) PriceInsights(ctx context.Context) ([]report.ItemPopularity, error) {
	ctx, span := s.tracer.Start(ctx, "PriceInsights")
	defer span.End()

	if _, err := s.authorize(ctx, domain.RoleVendor); err != nil {
		return nil, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, s.fail(span, "PriceInsights", err)
	}
	result, err := s.engine.Popularity(ctx, snap, report.PopularityWindow)
	if err != nil {
		return nil, s.fail(span, "PriceInsights", err)
	}
	return result, nil
}

// LogConsumption records one entry per line with a positive quantity. The
// whole batch is stored or none of it is.
func (s *Service) LogConsumption(ctx context.Context, req domain.LogConsumptionRequest) (domain.LogConsumptionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "LogConsumption")
	defer span.End()

	session, err := s.authorize(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.LogConsumptionResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.LogConsumptionResponse{}, err
	}

	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return domain.LogConsumptionResponse{}, s.fail(span, "LogConsumption", err)
	}
	known := make(map[string]struct{}, len(items))
	for _, item := range items {
		known[item.ID] = struct{}{}
	}

	now := s.now().UTC()
	resp := domain.LogConsumptionResponse{Logs: make([]domain.ConsumptionLog, 0, len(req.Items))}
	for i, line := range req.Items {
		if _, ok := known[line.ItemID]; !ok {
			return domain.LogConsumptionResponse{}, domain.Invalid(fmt.Sprintf("items[%d].item_id", i), line.ItemID, "unknown item")
		}
		if line.Quantity == 0 {
			resp.Skipped++
			continue
		}
		resp.Logs = append(resp.Logs, domain.ConsumptionLog{
			ID:        xid.New("log"),
			Date:      req.Date,
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			LoggedBy:  session.Username,
			Type:      req.Type,
			CreatedAt: now,
		})
		resp.TotalQuantity += line.Quantity
	}
	if len(resp.Logs) == 0 {
		return domain.LogConsumptionResponse{}, domain.Invalid("items", "", "at least one quantity must be greater than zero")
	}

	if err := s.repo.AppendLogs(ctx, resp.Logs); err != nil {
		return domain.LogConsumptionResponse{}, s.fail(span, "LogConsumption", err)
	}
	span.SetAttributes(attribute.Int("logs.count", len(resp.Logs)))
	s.logAudit(ctx, "consumption_log", "consumption_log", req.Date,
		fmt.Sprintf("type=%s,entries=%d,quantity=%d", req.Type, len(resp.Logs), resp.TotalQuantity))
	return resp, nil
}

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	session, err := s.authorize(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return s.currentSettings(ctx, session)
}

func (s *Service) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	session, err := s.authorize(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	current, err := s.currentSettings(ctx, session)
	if err != nil {
		return domain.Settings{}, err
	}
	next := patch.Apply(current)
	if err := s.validateStruct(next); err != nil {
		return domain.Settings{}, err
	}
	if err := s.repo.SaveSettings(ctx, session.Username, next); err != nil {
		return domain.Settings{}, err
	}
	s.logAudit(ctx, "settings_update", "settings", session.Username, "")
	return next, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.authorize(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}

	// a named date is a calendar day in the report location
	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
		to = from.Add(24 * time.Hour)
	} else {
		parsed, err := time.ParseInLocation(domain.DateLayout, date, s.engine.Location())
		if err != nil {
			return nil, domain.Invalid("date", date, "expected YYYY-MM-DD")
		}
		from = parsed.UTC()
		to = parsed.AddDate(0, 0, 1).UTC()
	}

	return s.repo.ListAuditLogs(ctx, from, to, clampLimit(limit, 100, 1000))
}

func (s *Service) currentSettings(ctx context.Context, session domain.Session) (domain.Settings, error) {
	saved, err := s.repo.GetSettings(ctx, session.Username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefaultSettings(session.Username, session.Role), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	return *saved, nil
}

// authorize returns the caller's session and checks it holds one of roles.
// No roles means any signed-in user.
func (s *Service) authorize(ctx context.Context, roles ...domain.Role) (domain.Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.Username == "" {
		return domain.Session{}, ErrUnauthenticated
	}
	if len(roles) > 0 && !slices.Contains(roles, session.Role) {
		return domain.Session{}, fmt.Errorf("%w: %s role required", ErrForbidden, roles[0])
	}
	return session, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		session = domain.Session{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: session.Username,
		ActorRole:     session.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.log.WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

// fail records err on the span and logs it unless it is a caller error.
func (s *Service) fail(span trace.Span, funcName string, err error) error {
	if errors.Is(err, domain.ErrInvalid) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logging.LogError(s.log, "service", funcName, "", nil, err)
	return err
}

func clampLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
