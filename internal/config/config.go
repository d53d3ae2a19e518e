package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Port        string
	Environment string

	AdminAPIToken string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Orchestrator tunables. The executor call timeout must stay below the
	// reaper timeout so a hung sync call is reaped, not stuck.
	OpMaxRetries        int
	ExecutorCallTimeout time.Duration
	FinalizerInterval   time.Duration
	FinalizerBatchSize  int
	ReaperInterval      time.Duration
	ReaperTimeout       time.Duration
	ReaperBatchSize     int
	RetentionInterval   time.Duration
	RetentionMaxAge     time.Duration
	RetentionBatchSize  int

	// Crawl dispatch.
	CrawlQueueKey         string
	CrawlQueueURL         string
	DispatchInterval      time.Duration
	DispatchBatchSize     int
	DispatchRequeueAfter  time.Duration
	MarketplaceListingURL string
	CrawlUserAgents       []string

	SnowflakeNodeID int64
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "crawl-cloud"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Port:        getenv("PORT", "8080"),
		Environment: getenv("ENVIRONMENT", "development"),

		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),

		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "crawlcloud"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 100),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		OpMaxRetries:        getenvInt("OP_MAX_RETRIES", 3),
		ExecutorCallTimeout: getenvDuration("EXECUTOR_CALL_TIMEOUT", 30*time.Second),
		FinalizerInterval:   getenvDuration("FINALIZER_INTERVAL", 15*time.Second),
		FinalizerBatchSize:  getenvInt("FINALIZER_BATCH_SIZE", 50),
		ReaperInterval:      getenvDuration("REAPER_INTERVAL", time.Minute),
		ReaperTimeout:       getenvDuration("REAPER_TIMEOUT", 5*time.Minute),
		ReaperBatchSize:     getenvInt("REAPER_BATCH_SIZE", 50),
		RetentionInterval:   getenvDuration("RETENTION_INTERVAL", time.Hour),
		RetentionMaxAge:     getenvDuration("RETENTION_MAX_AGE", 30*24*time.Hour),
		RetentionBatchSize:  getenvInt("RETENTION_BATCH_SIZE", 500),

		CrawlQueueKey:         getenv("CRAWL_QUEUE_KEY", "crawl:tasks"),
		CrawlQueueURL:         getenv("CRAWL_QUEUE_URL", "redis://localhost:6379/crawl:tasks"),
		DispatchInterval:      getenvDuration("DISPATCH_INTERVAL", 10*time.Second),
		DispatchBatchSize:     getenvInt("DISPATCH_BATCH_SIZE", 50),
		DispatchRequeueAfter:  getenvDuration("DISPATCH_REQUEUE_AFTER", 10*time.Minute),
		MarketplaceListingURL: getenv("MARKETPLACE_LISTING_URL", "https://marketplace.example.com/sellers"),
		CrawlUserAgents:       parseList(getenv("CRAWL_USER_AGENTS", "")),

		SnowflakeNodeID: getenvInt64("SNOWFLAKE_NODE_ID", 1),
	}

	return &cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
