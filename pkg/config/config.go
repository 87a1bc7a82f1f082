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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Rollbar       RollbarConfig
	Scheduling    SchedulingConfig
	Cache         CacheConfig
	Notifications NotificationConfig
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
	// StoreTimeout bounds every transaction issued by the engine.
	StoreTimeout time.Duration
	// MaxRetries bounds retries after a lost ledger race.
	MaxRetries int
	RetryDelay time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RollbarConfig enables error reporting when a token is present.
type RollbarConfig struct {
	Token       string
	CodeVersion string
}

// SchedulingConfig carries the product settings consumed by the lifecycle manager and generator.
type SchedulingConfig struct {
	LowCreditThreshold      int
	ExperiencePerSession    int
	AssignmentDueDays       int
	LowCreditTemplateID     string
	CompanyName             string
	JoinWindowBefore        time.Duration
	JoinWindowAfter         time.Duration
	MaxRecurringOccurrences int
}

// CacheConfig governs read-model caching for dashboards.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// NotificationConfig wires outbound channels for announcements and domain events.
type NotificationConfig struct {
	ResendAPIKey  string
	MailFrom      string
	NATSURL       string
	SubjectPrefix string
	Workers       int
	MaxRetries    int
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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
		StoreTimeout: parseDuration(v.GetString("DB_STORE_TIMEOUT"), 5*time.Second),
		MaxRetries:   v.GetInt("LEDGER_MAX_RETRIES"),
		RetryDelay:   parseDuration(v.GetString("LEDGER_RETRY_DELAY"), 25*time.Millisecond),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Rollbar = RollbarConfig{
		Token:       v.GetString("ROLLBAR_TOKEN"),
		CodeVersion: v.GetString("BUILD_VERSION"),
	}

	cfg.Scheduling = SchedulingConfig{
		LowCreditThreshold:      v.GetInt("LOW_CREDIT_THRESHOLD"),
		ExperiencePerSession:    v.GetInt("XP_PER_COMPLETED_SESSION"),
		AssignmentDueDays:       v.GetInt("ASSIGNMENT_DUE_DAYS"),
		LowCreditTemplateID:     v.GetString("LOW_CREDIT_TEMPLATE_ID"),
		CompanyName:             v.GetString("COMPANY_NAME"),
		JoinWindowBefore:        parseDuration(v.GetString("JOIN_WINDOW_BEFORE"), 10*time.Minute),
		JoinWindowAfter:         parseDuration(v.GetString("JOIN_WINDOW_AFTER"), 15*time.Minute),
		MaxRecurringOccurrences: v.GetInt("MAX_RECURRING_OCCURRENCES"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_READ_CACHE"),
		TTL:     parseDuration(v.GetString("PROGRESS_CACHE_TTL"), time.Minute),
	}

	cfg.Notifications = NotificationConfig{
		ResendAPIKey:  v.GetString("RESEND_API_KEY"),
		MailFrom:      v.GetString("MAIL_FROM"),
		NATSURL:       v.GetString("NATS_URL"),
		SubjectPrefix: v.GetString("EVENTS_SUBJECT_PREFIX"),
		Workers:       v.GetInt("NOTIFY_WORKERS"),
		MaxRetries:    v.GetInt("NOTIFY_MAX_RETRIES"),
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
	v.SetDefault("DB_NAME", "tutorhub")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_STORE_TIMEOUT", "5s")
	v.SetDefault("LEDGER_MAX_RETRIES", 3)
	v.SetDefault("LEDGER_RETRY_DELAY", "25ms")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ROLLBAR_TOKEN", "")
	v.SetDefault("BUILD_VERSION", "dev")

	v.SetDefault("LOW_CREDIT_THRESHOLD", 5)
	v.SetDefault("XP_PER_COMPLETED_SESSION", 50)
	v.SetDefault("ASSIGNMENT_DUE_DAYS", 7)
	v.SetDefault("LOW_CREDIT_TEMPLATE_ID", "low-credit-alert")
	v.SetDefault("COMPANY_NAME", "TutorHub")
	v.SetDefault("JOIN_WINDOW_BEFORE", "10m")
	v.SetDefault("JOIN_WINDOW_AFTER", "15m")
	v.SetDefault("MAX_RECURRING_OCCURRENCES", 52)

	v.SetDefault("ENABLE_READ_CACHE", false)
	v.SetDefault("PROGRESS_CACHE_TTL", "1m")

	v.SetDefault("RESEND_API_KEY", "")
	v.SetDefault("MAIL_FROM", "TutorHub <no-reply@tutorhub.local>")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("EVENTS_SUBJECT_PREFIX", "tutorhub")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
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

// isMissingFile covers viper returning a plain fs error for an explicit SetConfigFile path.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}
