package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	AppTimezone    string   `mapstructure:"APP_TIMEZONE"`

	// Hex AES-256 key for patient national ids; empty stores them in clear.
	PatientEncryptionKey string `mapstructure:"PATIENT_ENCRYPTION_KEY"`

	// External LIS
	LISServerURL           string        `mapstructure:"LIS_SERVER_URL"`
	LISTestsPath           string        `mapstructure:"LIS_TESTS_PATH"`
	LISReferrersPath       string        `mapstructure:"LIS_REFERRERS_PATH"`
	LISOrdersPath          string        `mapstructure:"LIS_ORDERS_PATH"`
	LISOrderMaterialsPath  string        `mapstructure:"LIS_ORDER_MATERIALS_PATH"`
	LISReportsPath         string        `mapstructure:"LIS_REPORTS_PATH"`
	LISSampleTypesPath     string        `mapstructure:"LIS_SAMPLE_TYPES_PATH"`
	LISLoginPath           string        `mapstructure:"LIS_LOGIN_PATH"`
	LISLogisticRequestPath string        `mapstructure:"LIS_LOGISTIC_REQUEST_PATH"`
	LISEmail               string        `mapstructure:"LIS_EMAIL"`
	LISPassword            string        `mapstructure:"LIS_PASSWORD"`
	LISTimeout             time.Duration `mapstructure:"LIS_TIMEOUT"`

	// Reconciliation scheduler
	SyncEnabled           bool          `mapstructure:"SYNC_ENABLED"`
	SyncOrdersInterval    time.Duration `mapstructure:"SYNC_ORDERS_INTERVAL"`
	SyncReferrersInterval time.Duration `mapstructure:"SYNC_REFERRERS_INTERVAL"`
	SyncTestsInterval     time.Duration `mapstructure:"SYNC_TESTS_INTERVAL"`

	// Order events
	KafkaBrokers          string `mapstructure:"KAFKA_BROKERS"`
	KafkaOrderEventsTopic string `mapstructure:"KAFKA_ORDER_EVENTS_TOPIC"`
	OrderEventsWebhookURL string `mapstructure:"ORDER_EVENTS_WEBHOOK_URL"`
	OrderEventsSecret     string `mapstructure:"ORDER_EVENTS_WEBHOOK_SECRET"`

	// Raw payload archive
	ArchiveS3Bucket    string `mapstructure:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Region    string `mapstructure:"ARCHIVE_S3_REGION"`
	ArchiveS3Endpoint  string `mapstructure:"ARCHIVE_S3_ENDPOINT"`
	ArchiveS3PathStyle bool   `mapstructure:"ARCHIVE_S3_PATH_STYLE"`
}

// LISPaths holds the per-resource paths of the remote LIS API.
type LISPaths struct {
	Tests           string
	Referrers       string
	Orders          string
	OrderMaterials  string
	Reports         string
	SampleTypes     string
	Login           string
	LogisticRequest string
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "APP_TIMEZONE", "PATIENT_ENCRYPTION_KEY",
	"LIS_SERVER_URL", "LIS_TESTS_PATH", "LIS_REFERRERS_PATH", "LIS_ORDERS_PATH",
	"LIS_ORDER_MATERIALS_PATH", "LIS_REPORTS_PATH", "LIS_SAMPLE_TYPES_PATH",
	"LIS_LOGIN_PATH", "LIS_LOGISTIC_REQUEST_PATH", "LIS_EMAIL", "LIS_PASSWORD", "LIS_TIMEOUT",
	"SYNC_ENABLED", "SYNC_ORDERS_INTERVAL", "SYNC_REFERRERS_INTERVAL", "SYNC_TESTS_INTERVAL",
	"KAFKA_BROKERS", "KAFKA_ORDER_EVENTS_TOPIC", "ORDER_EVENTS_WEBHOOK_URL", "ORDER_EVENTS_WEBHOOK_SECRET",
	"ARCHIVE_S3_BUCKET", "ARCHIVE_S3_REGION", "ARCHIVE_S3_ENDPOINT", "ARCHIVE_S3_PATH_STYLE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("APP_TIMEZONE", "UTC")

	v.SetDefault("LIS_TESTS_PATH", "api/tests")
	v.SetDefault("LIS_REFERRERS_PATH", "api/referrers")
	v.SetDefault("LIS_ORDERS_PATH", "api/orders/status")
	v.SetDefault("LIS_ORDER_MATERIALS_PATH", "api/order-materials")
	v.SetDefault("LIS_REPORTS_PATH", "api/reports")
	v.SetDefault("LIS_SAMPLE_TYPES_PATH", "api/sample-types")
	v.SetDefault("LIS_LOGIN_PATH", "api/login")
	v.SetDefault("LIS_LOGISTIC_REQUEST_PATH", "api/logistic-requests")
	v.SetDefault("LIS_TIMEOUT", "30s")

	v.SetDefault("SYNC_ENABLED", true)
	v.SetDefault("SYNC_ORDERS_INTERVAL", "5m")
	v.SetDefault("SYNC_REFERRERS_INTERVAL", "1h")
	v.SetDefault("SYNC_TESTS_INTERVAL", "1h")

	v.SetDefault("KAFKA_ORDER_EVENTS_TOPIC", "order-events")
	v.SetDefault("ARCHIVE_S3_REGION", "us-east-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development), all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves APP_TIMEZONE, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.AppTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) LISPaths() LISPaths {
	return LISPaths{
		Tests:           c.LISTestsPath,
		Referrers:       c.LISReferrersPath,
		Orders:          c.LISOrdersPath,
		OrderMaterials:  c.LISOrderMaterialsPath,
		Reports:         c.LISReportsPath,
		SampleTypes:     c.LISSampleTypesPath,
		Login:           c.LISLoginPath,
		LogisticRequest: c.LISLogisticRequestPath,
	}
}

// KafkaBrokerList splits KAFKA_BROKERS into host:port entries.
func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Validate checks that the configuration is safe to run. Outside development a
// token verifier (issuer/JWKS or a signing key) must be configured, and a
// scheduler that is switched on needs a remote server and positive cadences.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if _, err := time.LoadLocation(c.AppTimezone); c.AppTimezone != "" && err != nil {
		return fmt.Errorf("APP_TIMEZONE %q is not a valid location: %w", c.AppTimezone, err)
	}
	if c.LISTimeout <= 0 {
		return fmt.Errorf("LIS_TIMEOUT must be positive, got %s", c.LISTimeout)
	}
	if !c.SyncEnabled {
		return nil
	}
	if c.LISServerURL == "" {
		return fmt.Errorf("LIS_SERVER_URL is required when SYNC_ENABLED is true")
	}
	intervals := map[string]time.Duration{
		"SYNC_ORDERS_INTERVAL":    c.SyncOrdersInterval,
		"SYNC_REFERRERS_INTERVAL": c.SyncReferrersInterval,
		"SYNC_TESTS_INTERVAL":     c.SyncTestsInterval,
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	return nil
}
