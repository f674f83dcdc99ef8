package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Enrollment EnrollmentConfig
	Waitlist   WaitlistConfig
	Conflicts  ConflictConfig
	Notify     NotifyConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EnrollmentConfig tunes the admission orchestrator.
type EnrollmentConfig struct {
	RequestTTL       time.Duration
	OperationTimeout time.Duration
	BulkMaxStudents  int
}

// WaitlistConfig tunes promotion holds and the position snapshot cache.
type WaitlistConfig struct {
	HoldTTL          time.Duration
	PositionCacheTTL time.Duration
	SweepInterval    time.Duration
}

// ConflictConfig carries the default detector thresholds. Institutions can
// replace them with a tenant policy row.
type ConflictConfig struct {
	SweepEnabled        bool
	SweepInterval       time.Duration
	SuspiciousMax       int
	SuspiciousWindow    time.Duration
	BulkVelocityMax     int
	BulkVelocityWindow  time.Duration
	OverrideQuotaPeriod time.Duration
}

// NotifyConfig sizes the asynchronous notification queue.
type NotifyConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Enrollment = EnrollmentConfig{
		RequestTTL:       parseDuration(v.GetString("ENROLLMENT_REQUEST_TTL"), 168*time.Hour),
		OperationTimeout: parseDuration(v.GetString("ENROLLMENT_OPERATION_TIMEOUT"), 5*time.Second),
		BulkMaxStudents:  v.GetInt("ENROLLMENT_BULK_MAX_STUDENTS"),
	}

	cfg.Waitlist = WaitlistConfig{
		HoldTTL:          parseDuration(v.GetString("WAITLIST_HOLD_TTL"), 24*time.Hour),
		PositionCacheTTL: parseDuration(v.GetString("WAITLIST_POSITION_CACHE_TTL"), time.Minute),
		SweepInterval:    parseDuration(v.GetString("WAITLIST_SWEEP_INTERVAL"), 5*time.Minute),
	}

	cfg.Conflicts = ConflictConfig{
		SweepEnabled:        v.GetBool("CONFLICT_SWEEP_ENABLED"),
		SweepInterval:       parseDuration(v.GetString("CONFLICT_SWEEP_INTERVAL"), 15*time.Minute),
		SuspiciousMax:       v.GetInt("CONFLICT_SUSPICIOUS_MAX_ENROLLMENTS"),
		SuspiciousWindow:    parseDuration(v.GetString("CONFLICT_SUSPICIOUS_WINDOW"), 24*time.Hour),
		BulkVelocityMax:     v.GetInt("CONFLICT_BULK_VELOCITY_MAX"),
		BulkVelocityWindow:  parseDuration(v.GetString("CONFLICT_BULK_VELOCITY_WINDOW"), time.Hour),
		OverrideQuotaPeriod: parseDuration(v.GetString("OVERRIDE_QUOTA_PERIOD"), 720*time.Hour),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_enrollment")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENROLLMENT_REQUEST_TTL", "168h")
	v.SetDefault("ENROLLMENT_OPERATION_TIMEOUT", "5s")
	v.SetDefault("ENROLLMENT_BULK_MAX_STUDENTS", 200)

	v.SetDefault("WAITLIST_HOLD_TTL", "24h")
	v.SetDefault("WAITLIST_POSITION_CACHE_TTL", "1m")
	v.SetDefault("WAITLIST_SWEEP_INTERVAL", "5m")

	v.SetDefault("CONFLICT_SWEEP_ENABLED", true)
	v.SetDefault("CONFLICT_SWEEP_INTERVAL", "15m")
	v.SetDefault("CONFLICT_SUSPICIOUS_MAX_ENROLLMENTS", 10)
	v.SetDefault("CONFLICT_SUSPICIOUS_WINDOW", "24h")
	v.SetDefault("CONFLICT_BULK_VELOCITY_MAX", 5)
	v.SetDefault("CONFLICT_BULK_VELOCITY_WINDOW", "1h")
	v.SetDefault("OVERRIDE_QUOTA_PERIOD", "720h")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 256)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
