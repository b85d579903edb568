package config

import (
	"errors"
	"io/fs"
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
	LoginPath string

	Database    DatabaseConfig
	Redis       RedisConfig
	Identity    IdentityConfig
	Session     SessionConfig
	Permissions PermissionConfig
	CLI         CLIConfig
	Stub        StubConfig
	CORS        CORSConfig
	Log         LogConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// IdentityConfig points at the remote identity API.
type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig controls the mirrored session lifecycle and the session cache.
type SessionConfig struct {
	Validity       time.Duration
	CacheFreshness time.Duration
	SweepSchedule  string
}

// PermissionConfig tunes the shared permission grant cache.
type PermissionConfig struct {
	CacheTTL time.Duration
}

// CLIConfig holds settings for the operator CLI.
type CLIConfig struct {
	TokenFile string
}

// StubConfig configures the development identity API.
type StubConfig struct {
	Port        int
	JWTSecret   string
	SSOSecret   string
	Issuer      string
	TokenExpiry time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
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
	cfg.LoginPath = v.GetString("LOGIN_PATH")

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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Identity = IdentityConfig{
		BaseURL: strings.TrimRight(v.GetString("IDENTITY_API_URL"), "/"),
		Timeout: parseDuration(v.GetString("IDENTITY_API_TIMEOUT"), 10*time.Second),
	}

	cfg.Session = SessionConfig{
		Validity:       parseDuration(v.GetString("SESSION_VALIDITY"), 7*24*time.Hour),
		CacheFreshness: parseDuration(v.GetString("SESSION_CACHE_FRESHNESS"), 5*time.Minute),
		SweepSchedule:  v.GetString("SESSION_SWEEP_SCHEDULE"),
	}

	cfg.Permissions = PermissionConfig{
		CacheTTL: parseDuration(v.GetString("PERMISSION_CACHE_TTL"), time.Minute),
	}

	cfg.CLI = CLIConfig{TokenFile: v.GetString("TOKEN_FILE")}

	cfg.Stub = StubConfig{
		Port:        v.GetInt("STUB_PORT"),
		JWTSecret:   v.GetString("STUB_JWT_SECRET"),
		SSOSecret:   v.GetString("STUB_SSO_SECRET"),
		Issuer:      v.GetString("STUB_ISSUER"),
		TokenExpiry: parseDuration(v.GetString("STUB_TOKEN_EXPIRY"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOGIN_PATH", "/login")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "admin_console")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("IDENTITY_API_URL", "http://localhost:8081")
	v.SetDefault("IDENTITY_API_TIMEOUT", "10s")

	v.SetDefault("SESSION_VALIDITY", "168h")
	v.SetDefault("SESSION_CACHE_FRESHNESS", "5m")
	v.SetDefault("SESSION_SWEEP_SCHEDULE", "@every 10m")
	v.SetDefault("PERMISSION_CACHE_TTL", "1m")

	v.SetDefault("TOKEN_FILE", "")

	v.SetDefault("STUB_PORT", 8081)
	v.SetDefault("STUB_JWT_SECRET", "dev_identity_secret")
	v.SetDefault("STUB_SSO_SECRET", "dev_sso_secret")
	v.SetDefault("STUB_ISSUER", "identity-stub")
	v.SetDefault("STUB_TOKEN_EXPIRY", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// SetConfigFile bypasses the search path so a missing .env surfaces as a raw fs error.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
