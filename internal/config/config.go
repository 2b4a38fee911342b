package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SnapshotBackend       string
	SnapshotDir           string
	SnapshotBucket        string
	SnapshotPrefix        string
	ReportCacheTTLSeconds int
	ReportCacheSize       int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminPassword         string
	VendorPassword        string
	TimeZone              string
	PricingPolicy         string
	LogLevel              string
	LogFormat             string
	SeedSampleData        bool
}

// LoadDotEnv reads key=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("REPORT_CACHE_TTL_SECONDS", "300"))
	if err != nil || ttl < 1 {
		ttl = 300
	}
	cacheSize, err := strconv.Atoi(getEnv("REPORT_CACHE_SIZE", "256"))
	if err != nil || cacheSize < 1 {
		cacheSize = 256
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	seed, err := strconv.ParseBool(getEnv("SEED_SAMPLE_DATA", "true"))
	if err != nil {
		seed = true
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            os.Getenv("SQLITE_PATH"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		SnapshotBackend:       strings.ToLower(getEnv("SNAPSHOT_BACKEND", "file")),
		SnapshotDir:           getEnv("SNAPSHOT_DIR", "./data"),
		SnapshotBucket:        os.Getenv("SNAPSHOT_BUCKET"),
		SnapshotPrefix:        getEnv("SNAPSHOT_PREFIX", "pantry/"),
		ReportCacheTTLSeconds: ttl,
		ReportCacheSize:       cacheSize,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		VendorPassword:        os.Getenv("VENDOR_PASSWORD"),
		TimeZone:              getEnv("TIME_ZONE", "UTC"),
		PricingPolicy:         strings.ToLower(getEnv("PRICING_POLICY", "current")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		SeedSampleData:        seed,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
