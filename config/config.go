package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/sunflower/pkg/models"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"sunflower"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"120"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"sunflower"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Enable redis. Without it the pass lock is local to the process.
	RedisEnabled bool `env:"REDIS_ENABLED" env-default:"false"`
	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Enable kafka change and alert events
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for inserted/updated demand records
	KafkaRecordTopic string `env:"KAFKA_RECORD_TOPIC" env-default:"demand-records"`
	// Kafka topic for deviation alerts
	KafkaAlertTopic string `env:"KAFKA_ALERT_TOPIC" env-default:"demand-alerts"`

	// Upstream feed
	FeedURL         string   `env:"FEED_URL" env-default:"https://www.cenace.gob.mx/GraficaDemanda.aspx/obtieneValoresTotal"`
	FeedReferer     string   `env:"FEED_REFERER" env-default:"https://www.cenace.gob.mx/GraficaDemanda.aspx"`
	FeedOrigin      string   `env:"FEED_ORIGIN" env-default:"https://www.cenace.gob.mx"`
	FeedRegionParam string   `env:"FEED_REGION_PARAM" env-default:"gerencia"`
	FeedRegions     []string `env:"FEED_REGIONS" env-default:"1:Baja California,2:Baja California Sur,3:Central,4:Noreste,5:Noroeste,6:Norte,7:Occidental,8:Oriental,9:Peninsular"`
	// FeedTimeout bounds one upstream request
	FeedTimeout time.Duration `env:"FEED_TIMEOUT" env-default:"30s"`
	// FeedRateLimit is requests per second; 0 disables limiting
	FeedRateLimit int `env:"FEED_RATE_LIMIT" env-default:"2"`
	FeedBurst     int `env:"FEED_BURST" env-default:"1"`

	// TimeZone is the grid operator's wall clock, used to pick the current hour
	TimeZone string `env:"TZ_GRID" env-default:"America/Mexico_City"`

	// Scheduler settings
	// Enable/disable the in-process scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Scheduler interval between passes
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" env-default:"5m"`
	// Pass lock TTL, must exceed the longest pass
	SchedulerLockTTL time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"10m"`
	// Run a pass as soon as the scheduler starts
	SchedulerRunOnStart bool `env:"SCHEDULER_RUN_ON_START" env-default:"true"`

	// Ingestion settings
	// Regions processed in parallel
	IngestionWorkers int `env:"INGESTION_WORKERS" env-default:"4"`
	// Time budget for one region
	IngestionRegionTimeout time.Duration `env:"INGESTION_REGION_TIMEOUT" env-default:"60s"`
	// Time budget for one record event or alert, independent of the region's
	IngestionSideEffectTimeout time.Duration `env:"INGESTION_SIDE_EFFECT_TIMEOUT" env-default:"5s"`

	// Alert settings
	// Percent deviation at or above which an alert is sent
	AlertThresholdPercent string `env:"ALERT_THRESHOLD_PERCENT" env-default:"10"`
	// Chat webhook, alerts are only logged when empty
	AlertWebhookURL string `env:"ALERT_WEBHOOK_URL" env-default:""`
	// Channel named in the webhook payload
	AlertChannel string `env:"ALERT_CHANNEL" env-default:"#demand-alerts"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseMigrationVersion < 0 {
		return errors.New("DB_MIGRATION_VERSION must not be negative")
	}
	if _, err := c.Regions(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.AlertThreshold(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Regions() ([]models.Region, error) {
	regions, err := models.ParseRegions(c.FeedRegions)
	if err != nil {
		return nil, fmt.Errorf("FEED_REGIONS: %w", err)
	}
	if len(regions) == 0 {
		return nil, errors.New("FEED_REGIONS: at least one region is required")
	}
	return regions, nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("TZ_GRID: %w", err)
	}
	return loc, nil
}

func (c *Config) AlertThreshold() (decimal.Decimal, error) {
	threshold, err := decimal.NewFromString(c.AlertThresholdPercent)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ALERT_THRESHOLD_PERCENT: %w", err)
	}
	if threshold.IsNegative() {
		return decimal.Zero, errors.New("ALERT_THRESHOLD_PERCENT must not be negative")
	}
	return threshold, nil
}
