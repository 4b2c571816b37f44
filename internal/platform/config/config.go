package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr               string
	DatabaseURL        string
	DBMaxConns         int
	JWTSecret          string
	Environment        string
	RunMigrations      bool
	MigrationsDir      string
	LogLevel           string
	LogFile            string
	LogMaxSizeMB       int
	LogMaxBackups      int
	LogMaxAgeDays      int
	LogCompress        bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	LockTTL            time.Duration
	KafkaBrokers       []string
	KafkaPayRunTopic   string
	BatchConcurrency   int
	JobQueueSize       int
	MaxBodyBytes       int64
	RateLimitPerMinute int
	MetricsEnabled     bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Addr:               getEnv("APP_ADDR", ":8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		Environment:        getEnv("APP_ENV", "development"),
		RunMigrations:      getEnvBool("RUN_MIGRATIONS", true),
		MigrationsDir:      getEnv("MIGRATIONS_DIR", "migrations"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            getEnv("LOG_FILE", ""),
		LogMaxSizeMB:       getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:      getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:        getEnvBool("LOG_COMPRESS", true),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		LockTTL:            getEnvDuration("LOCK_TTL", 2*time.Minute),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaPayRunTopic:   getEnv("KAFKA_TOPIC_PAYRUNS", "payroll.payrun.computed"),
		BatchConcurrency:   getEnvInt("BATCH_CONCURRENCY", 4),
		JobQueueSize:       getEnvInt("JOB_QUEUE_SIZE", 64),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.IsProduction() && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}
	if c.JobQueueSize <= 0 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be positive")
	}
	if c.RedisAddr != "" && c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive when REDIS_ADDR is set")
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaPayRunTopic) == "" {
		return fmt.Errorf("KAFKA_TOPIC_PAYRUNS must be set when KAFKA_BROKERS is set")
	}
	return nil
}
