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
	Events     EventsConfig
	Audit      AuditConfig
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
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EnrollmentConfig tunes the admission decision pipeline.
type EnrollmentConfig struct {
	DecisionTimeout    time.Duration
	RetryAttempts      int
	RetryBackoff       time.Duration
	PromotionLoopLimit int
	LockShards         int
}

// WaitlistConfig tunes waitlist behaviour that is not per-class.
type WaitlistConfig struct {
	OfferTTL          time.Duration
	ExpirySweepPeriod time.Duration
}

// EventsConfig controls realtime event publication.
type EventsConfig struct {
	Enabled        bool
	ChannelPrefix  string
	PublishTimeout time.Duration
}

// AuditConfig controls the asynchronous audit recorder.
type AuditConfig struct {
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

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Enrollment = EnrollmentConfig{
		DecisionTimeout:    parseDuration(v.GetString("ENROLLMENT_DECISION_TIMEOUT"), 5*time.Second),
		RetryAttempts:      v.GetInt("ENROLLMENT_RETRY_ATTEMPTS"),
		RetryBackoff:       parseDuration(v.GetString("ENROLLMENT_RETRY_BACKOFF"), 50*time.Millisecond),
		PromotionLoopLimit: v.GetInt("ENROLLMENT_PROMOTION_LOOP_LIMIT"),
		LockShards:         v.GetInt("ENROLLMENT_LOCK_SHARDS"),
	}

	cfg.Waitlist = WaitlistConfig{
		OfferTTL:          parseDuration(v.GetString("WAITLIST_OFFER_TTL"), 24*time.Hour),
		ExpirySweepPeriod: parseDuration(v.GetString("WAITLIST_EXPIRY_SWEEP_PERIOD"), 5*time.Minute),
	}

	cfg.Events = EventsConfig{
		Enabled:        v.GetBool("ENABLE_REALTIME_EVENTS"),
		ChannelPrefix:  v.GetString("EVENTS_CHANNEL_PREFIX"),
		PublishTimeout: parseDuration(v.GetString("EVENTS_PUBLISH_TIMEOUT"), 2*time.Second),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
		MaxRetries: v.GetInt("AUDIT_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("AUDIT_RETRY_DELAY"), time.Second),
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
	v.SetDefault("DB_NAME", "enrollment_engine")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENROLLMENT_DECISION_TIMEOUT", "5s")
	v.SetDefault("ENROLLMENT_RETRY_ATTEMPTS", 3)
	v.SetDefault("ENROLLMENT_RETRY_BACKOFF", "50ms")
	v.SetDefault("ENROLLMENT_PROMOTION_LOOP_LIMIT", 50)
	v.SetDefault("ENROLLMENT_LOCK_SHARDS", 64)

	v.SetDefault("WAITLIST_OFFER_TTL", "24h")
	v.SetDefault("WAITLIST_EXPIRY_SWEEP_PERIOD", "5m")

	v.SetDefault("ENABLE_REALTIME_EVENTS", true)
	v.SetDefault("EVENTS_CHANNEL_PREFIX", "enrollment")
	v.SetDefault("EVENTS_PUBLISH_TIMEOUT", "2s")

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)
	v.SetDefault("AUDIT_MAX_RETRIES", 3)
	v.SetDefault("AUDIT_RETRY_DELAY", "1s")
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
