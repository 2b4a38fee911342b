package store

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pantry/backend/internal/domain"
)

const (
	DefaultAdminPassword  = "admin123"
	DefaultVendorPassword = "vendor123"

	sampleSeed = 0x70616e747279
)

// DefaultPrices is the starting price list for a fresh pantry.
func DefaultPrices(now time.Time) []domain.Price {
	base := map[string]int64{"tea": 5, "coffee": 10, "biscuits": 20, "snacks": 30}
	prices := make([]domain.Price, 0, len(base))
	for _, item := range domain.DefaultCatalog() {
		prices = append(prices, domain.Price{
			ItemID:    item.ID,
			Price:     decimal.NewFromInt(base[item.ID]),
			UpdatedAt: now.UTC(),
			UpdatedBy: string(domain.RoleVendor),
		})
	}
	return prices
}

// DefaultUsers hashes the two built-in accounts. Empty passwords fall back to
// the dev defaults.
func DefaultUsers(adminPassword string, vendorPassword string, now time.Time) ([]domain.UserAccount, error) {
	if adminPassword == "" {
		adminPassword = DefaultAdminPassword
	}
	if vendorPassword == "" {
		vendorPassword = DefaultVendorPassword
	}
	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
	}{
		{"admin", adminPassword, domain.RoleAdmin},
		{"vendor", vendorPassword, domain.RoleVendor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now.UTC(),
		})
	}
	return users, nil
}

// SampleLogs generates one daily entry per catalog item for each of the last
// days calendar days ending at today. Output is deterministic for a given today.
func SampleLogs(today time.Time, days int) []domain.ConsumptionLog {
	rng := rand.New(rand.NewPCG(sampleSeed, uint64(days)))
	catalog := domain.DefaultCatalog()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	logs := make([]domain.ConsumptionLog, 0, days*len(catalog))
	for i := days - 1; i >= 0; i-- {
		date := day.AddDate(0, 0, -i).Format(domain.DateLayout)
		for idx, item := range catalog {
			base := 10
			if item.Category == domain.CategoryBeverage {
				base = 15
			}
			logs = append(logs, domain.ConsumptionLog{
				ID:        fmt.Sprintf("sample-%s-%d", date, idx),
				Date:      date,
				ItemID:    item.ID,
				Quantity:  int64(rng.IntN(base) + 5),
				LoggedBy:  string(domain.RoleAdmin),
				Type:      domain.LogTypeDaily,
				CreatedAt: day.AddDate(0, 0, -i).Add(18 * time.Hour),
			})
		}
	}
	return logs
}
