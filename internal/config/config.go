package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	MongoDB   MongoDBConfig
	WhatsApp  WhatsAppConfig
	Sheets    SheetsConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Pricing   PricingConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

// DatabaseConfig selects the relational store backing the ledger and cycles.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// MongoDBConfig holds settings for the run report archive. Empty URI disables it.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// WhatsAppConfig contains credentials for the Meta WhatsApp Cloud API notification sink.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	GroupID       string
}

// Enabled reports whether WhatsApp notifications can be sent.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// SheetsConfig contains configuration for the Google Sheets notification log.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
	NotificationTab string
}

func (c SheetsConfig) Enabled() bool {
	return c.CredentialsPath != "" && c.SpreadsheetID != ""
}

// RedisConfig configures the job lock. Empty address disables locking.
type RedisConfig struct {
	Address  string
	Password string
	LockTTL  time.Duration
}

// SchedulerConfig holds the periodic trigger settings.
type SchedulerConfig struct {
	AccrualCron  string
	BackfillCron string
	Timezone     string
	Concurrency  int
	JobTimeout   time.Duration
}

// Location resolves the configured timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// PricingConfig holds the unit prices used by the metrics engine.
type PricingConfig struct {
	DocPricePerBird decimal.Decimal
	FeedPricePerBag decimal.Decimal
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are fine when configuration comes from the environment.
		_ = godotenv.Load()
	}

	concurrency, err := strconv.Atoi(getenvWithDefault("ACCRUAL_CONCURRENCY", "8"))
	if err != nil {
		return nil, fmt.Errorf("parse ACCRUAL_CONCURRENCY: %w", err)
	}
	jobTimeout, err := time.ParseDuration(getenvWithDefault("JOB_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("parse JOB_TIMEOUT: %w", err)
	}
	lockTTL, err := time.ParseDuration(getenvWithDefault("REDIS_LOCK_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_LOCK_TTL: %w", err)
	}
	docPrice, err := decimal.NewFromString(getenvWithDefault("DOC_PRICE_PER_BIRD", "0.5"))
	if err != nil {
		return nil, fmt.Errorf("parse DOC_PRICE_PER_BIRD: %w", err)
	}
	feedPrice, err := decimal.NewFromString(getenvWithDefault("FEED_PRICE_PER_BAG", "30"))
	if err != nil {
		return nil, fmt.Errorf("parse FEED_PRICE_PER_BAG: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getenvWithDefault("APP_PORT", "8080"),
			CORSOrigins: []string{getenvWithDefault("CORS_ORIGIN", "http://localhost:5173")},
		},
		Database: DatabaseConfig{
			Driver: getenvWithDefault("DB_DRIVER", "mysql"),
			DSN:    os.Getenv("DB_DSN"),
		},
		MongoDB: MongoDBConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "broiler"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			BaseURL:       getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:    getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			GroupID:       os.Getenv("WHATSAPP_GROUP_ID"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
			NotificationTab: getenvWithDefault("GOOGLE_SHEET_NOTIFICATION_RANGE", "Notifications!A:G"),
		},
		Redis: RedisConfig{
			Address:  os.Getenv("REDIS_ADDRESS"),
			Password: os.Getenv("REDIS_PASSWORD"),
			LockTTL:  lockTTL,
		},
		Scheduler: SchedulerConfig{
			AccrualCron:  getenvWithDefault("ACCRUAL_CRON_SCHEDULE", "0 1 * * *"),
			BackfillCron: getenvWithDefault("BACKFILL_CRON_SCHEDULE", "0 3 * * 0"),
			Timezone:     getenvWithDefault("TIMEZONE", "Africa/Conakry"),
			Concurrency:  concurrency,
			JobTimeout:   jobTimeout,
		},
		Pricing: PricingConfig{
			DocPricePerBird: docPrice,
			FeedPricePerBag: feedPrice,
		},
		Log: LogConfig{
			Level:       getenvWithDefault("LOG_LEVEL", "info"),
			Development: os.Getenv("LOG_DEVELOPMENT") == "true",
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER %q is not supported", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("DB_DSN must be provided")
	}

	if c.MongoDB.URI != "" && c.MongoDB.DBName == "" {
		return errors.New("MONGODB_DB_NAME must be provided when MONGODB_URI is set")
	}

	if c.WhatsApp.Enabled() {
		if c.WhatsApp.BaseURL == "" {
			return errors.New("WHATSAPP_BASE_URL must not be empty")
		}
		if c.WhatsApp.APIVersion == "" {
			return errors.New("WHATSAPP_API_VERSION must not be empty")
		}
		if c.WhatsApp.GroupID == "" {
			return errors.New("WHATSAPP_GROUP_ID must be provided when WhatsApp notifications are enabled")
		}
	}

	if c.Scheduler.AccrualCron == "" {
		return errors.New("ACCRUAL_CRON_SCHEDULE must be provided")
	}
	if c.Scheduler.BackfillCron == "" {
		return errors.New("BACKFILL_CRON_SCHEDULE must be provided")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("TIMEZONE is invalid: %w", err)
	}
	if c.Scheduler.Concurrency <= 0 {
		return errors.New("ACCRUAL_CONCURRENCY must be positive")
	}

	if !c.Pricing.DocPricePerBird.IsPositive() {
		return errors.New("DOC_PRICE_PER_BIRD must be positive")
	}
	if !c.Pricing.FeedPricePerBag.IsPositive() {
		return errors.New("FEED_PRICE_PER_BAG must be positive")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
