package memory

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pantry/backend/internal/domain"
	"pantry/backend/internal/snapshot"
	"pantry/backend/internal/store"
	"pantry/backend/internal/xid"
)

// Persister is where the store writes its state after every mutation.
type Persister interface {
	Load(ctx context.Context) (snapshot.State, bool, error)
	Save(ctx context.Context, state snapshot.State) error
}

type Store struct {
	mu              sync.RWMutex
	items           []domain.Item
	itemsByID       map[string]domain.Item
	prices          map[string]domain.Price
	priceHistory    []domain.PriceChange
	logs            []domain.ConsumptionLog
	logIDs          map[string]struct{}
	settings        map[string]domain.Settings
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	epoch           string
	logsVersion     int64
	pricesVersion   int64
	persister       Persister
}

// seedUsers builds the built-in admin and vendor accounts. Passwords come from
// ADMIN_PASSWORD and VENDOR_PASSWORD, falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := os.Getenv("ADMIN_PASSWORD")
	vendorPwd := os.Getenv("VENDOR_PASSWORD")
	if adminPwd == "" || vendorPwd == "" {
		logrus.WithField("module", "memory-store").Warn("using default dev credentials; set ADMIN_PASSWORD and VENDOR_PASSWORD to override")
	}

	accounts, err := store.DefaultUsers(adminPwd, vendorPwd, time.Now())
	if err != nil {
		logrus.WithError(err).Fatal("failed to hash seed passwords")
	}
	users := make(map[string]domain.UserAccount, len(accounts))
	for _, u := range accounts {
		users[u.Username] = u
	}
	return users
}

// NewEmpty returns a store with the catalog, default prices and no logs.
func NewEmpty() *Store {
	s := &Store{
		itemsByID:       make(map[string]domain.Item),
		prices:          make(map[string]domain.Price),
		priceHistory:    make([]domain.PriceChange, 0, 16),
		logs:            make([]domain.ConsumptionLog, 0, 256),
		logIDs:          make(map[string]struct{}),
		settings:        make(map[string]domain.Settings),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
		epoch:           xid.New("mem"),
	}
	s.items = domain.DefaultCatalog()
	for _, item := range s.items {
		s.itemsByID[item.ID] = item
	}
	for _, p := range store.DefaultPrices(time.Now()) {
		s.prices[p.ItemID] = p
	}
	return s
}

// NewSeeded returns a store with thirty days of sample consumption.
func NewSeeded() *Store {
	s := NewEmpty()
	for _, entry := range store.SampleLogs(time.Now().UTC(), 30) {
		s.logs = append(s.logs, entry)
		s.logIDs[entry.ID] = struct{}{}
	}
	return s
}

// Open restores the store from persister, or seeds it and saves the seed when
// nothing was persisted yet. Every later mutation is written through.
func Open(ctx context.Context, persister Persister, seedSample bool) (*Store, error) {
	state, found, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var s *Store
	if found {
		s = NewEmpty()
		if err := s.restore(state); err != nil {
			return nil, err
		}
	} else if seedSample {
		s = NewSeeded()
	} else {
		s = NewEmpty()
	}
	s.persister = persister

	if !found {
		s.mu.Lock()
		err := s.persistLocked(ctx)
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("save initial snapshot: %w", err)
		}
	}
	return s, nil
}

// restore expects s fresh from NewEmpty. Items missing a stored price keep
// their default one.
func (s *Store) restore(state snapshot.State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	for _, p := range state.PriceTable(s.sortedPricesLocked()) {
		s.prices[p.ItemID] = p
	}
	s.priceHistory = append(s.priceHistory, state.PriceHistory...)
	for _, entry := range state.Logs {
		s.logIDs[entry.ID] = struct{}{}
		s.logs = append(s.logs, entry)
	}
	maps.Copy(s.settings, state.Settings)
	s.auditLogs = append(s.auditLogs, state.AuditLogs...)
	return nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	state := snapshot.State{
		Prices:       s.sortedPricesLocked(),
		PriceHistory: slices.Clone(s.priceHistory),
		Logs:         slices.Clone(s.logs),
		Settings:     maps.Clone(s.settings),
		AuditLogs:    slices.Clone(s.auditLogs),
	}
	return s.persister.Save(ctx, state)
}

func (s *Store) sortedPricesLocked() []domain.Price {
	result := make([]domain.Price, 0, len(s.prices))
	for _, item := range s.items {
		if p, ok := s.prices[item.ID]; ok {
			result = append(result, p)
		}
	}
	return result
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items), nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.itemsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListPrices(_ context.Context) ([]domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPricesLocked(), nil
}

func (s *Store) UpsertPrice(ctx context.Context, price domain.Price) (domain.PriceChange, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.itemsByID[price.ItemID]; !ok {
		return domain.PriceChange{}, false, store.ErrNotFound
	}
	if price.UpdatedAt.IsZero() {
		price.UpdatedAt = time.Now().UTC()
	}

	previous, hadPrevious := s.prices[price.ItemID]
	change := domain.PriceChange{
		ItemID:    price.ItemID,
		OldPrice:  previous.Price,
		NewPrice:  price.Price,
		ChangedBy: price.UpdatedBy,
		ChangedAt: price.UpdatedAt,
	}
	if hadPrevious && previous.Price.Equal(price.Price) {
		return change, false, nil
	}

	change.ID = xid.New("pc")
	s.prices[price.ItemID] = price
	s.priceHistory = append(s.priceHistory, change)
	s.pricesVersion++

	if err := s.persistLocked(ctx); err != nil {
		if hadPrevious {
			s.prices[price.ItemID] = previous
		} else {
			delete(s.prices, price.ItemID)
		}
		s.priceHistory = s.priceHistory[:len(s.priceHistory)-1]
		s.pricesVersion--
		return domain.PriceChange{}, false, err
	}
	return change, true, nil
}

func (s *Store) ListPriceHistory(_ context.Context, itemID string, limit int) ([]domain.PriceChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PriceChange, 0, len(s.priceHistory))
	for _, change := range s.priceHistory {
		if itemID != "" && change.ItemID != itemID {
			continue
		}
		result = append(result, change)
	}
	slices.SortStableFunc(result, func(a, b domain.PriceChange) int {
		return b.ChangedAt.Compare(a.ChangedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) AppendLogs(ctx context.Context, logs []domain.ConsumptionLog) error {
	if len(logs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{}, len(logs))
	for _, entry := range logs {
		if strings.TrimSpace(entry.ID) == "" {
			return fmt.Errorf("%w: log id is required", store.ErrInvalidRecord)
		}
		if _, ok := s.itemsByID[entry.ItemID]; !ok {
			return fmt.Errorf("%w: unknown item %s", store.ErrInvalidRecord, entry.ItemID)
		}
		if _, dup := s.logIDs[entry.ID]; dup {
			return store.ErrConflict
		}
		if _, dup := batch[entry.ID]; dup {
			return store.ErrConflict
		}
		batch[entry.ID] = struct{}{}
	}

	prevLen := len(s.logs)
	s.logs = append(s.logs, logs...)
	s.logsVersion++

	if err := s.persistLocked(ctx); err != nil {
		s.logs = s.logs[:prevLen]
		s.logsVersion--
		return err
	}
	for id := range batch {
		s.logIDs[id] = struct{}{}
	}
	return nil
}

func (s *Store) ListLogs(_ context.Context, filter domain.LogFilter) ([]domain.ConsumptionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ConsumptionLog, 0, 64)
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if filter.ItemID != "" && entry.ItemID != filter.ItemID {
			continue
		}
		if filter.From != "" && entry.Date < filter.From {
			continue
		}
		if filter.To != "" && entry.Date > filter.To {
			continue
		}
		result = append(result, entry)
	}
	slices.SortStableFunc(result, func(a, b domain.ConsumptionLog) int {
		return strings.Compare(b.Date, a.Date)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) Snapshot(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.Snapshot{
		Items:         slices.Clone(s.items),
		Prices:        s.sortedPricesLocked(),
		PriceHistory:  slices.Clone(s.priceHistory),
		Logs:          slices.Clone(s.logs),
		Epoch:         s.epoch,
		LogsVersion:   s.logsVersion,
		PricesVersion: s.pricesVersion,
	}, nil
}

func (s *Store) GetSettings(_ context.Context, username string) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[strings.ToLower(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, username string, settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(username))
	if key == "" {
		return fmt.Errorf("%w: username is required", store.ErrInvalidRecord)
	}
	previous, hadPrevious := s.settings[key]
	s.settings[key] = settings
	if err := s.persistLocked(ctx); err != nil {
		if hadPrevious {
			s.settings[key] = previous
		} else {
			delete(s.settings, key)
		}
		return err
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	if err := s.persistLocked(ctx); err != nil {
		s.auditLogs = s.auditLogs[:len(s.auditLogs)-1]
		return err
	}
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrInvalidRecord)
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := slices.Collect(maps.Values(s.usersByUsername))
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrInvalidRecord)
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

var _ store.Repository = (*Store)(nil)
