package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	AdminToken  string `mapstructure:"ADMIN_TOKEN"`
	ServerPort  string `mapstructure:"SERVER_PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	DataForSEOLogin        string  `mapstructure:"DATAFORSEO_LOGIN"`
	DataForSEOPassword     string  `mapstructure:"DATAFORSEO_PASSWORD"`
	DataForSEOBaseURL      string  `mapstructure:"DATAFORSEO_BASE_URL"`
	DataForSEOLocationCode int     `mapstructure:"DATAFORSEO_LOCATION_CODE"`
	DataForSEOLanguageCode string  `mapstructure:"DATAFORSEO_LANGUAGE_CODE"`
	DataForSEOMaxRPS       float64 `mapstructure:"DATAFORSEO_MAX_RPS"`

	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL string `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel   string `mapstructure:"OPENAI_MODEL"`

	CacheTTL             time.Duration `mapstructure:"CACHE_TTL"`
	CacheCleanupSchedule string        `mapstructure:"CACHE_CLEANUP_SCHEDULE"`
	AccessLogRetention   time.Duration `mapstructure:"ACCESS_LOG_RETENTION"`
	WebsiteFetchTimeout  time.Duration `mapstructure:"WEBSITE_FETCH_TIMEOUT"`
	MaxConcurrentJobs    int           `mapstructure:"MAX_CONCURRENT_JOBS"`
}

var defaults = map[string]any{
	"REDIS_URL":                "redis://localhost:6379",
	"SERVER_PORT":              "8080",
	"LOG_LEVEL":                "info",
	"DATAFORSEO_BASE_URL":      "https://api.dataforseo.com",
	"DATAFORSEO_LOCATION_CODE": 2840,
	"DATAFORSEO_LANGUAGE_CODE": "en",
	"DATAFORSEO_MAX_RPS":       30,
	"OPENAI_BASE_URL":          "https://api.openai.com/v1",
	"OPENAI_MODEL":             "gpt-4o-mini",
	"CACHE_TTL":                "2160h",
	"CACHE_CLEANUP_SCHEDULE":   "@daily",
	"ACCESS_LOG_RETENTION":     "2160h",
	"WEBSITE_FETCH_TIMEOUT":    "10s",
	"MAX_CONCURRENT_JOBS":      4,
}

var keys = []string{
	"DATABASE_URL", "REDIS_URL", "JWT_SECRET", "ADMIN_TOKEN", "SERVER_PORT", "LOG_LEVEL",
	"DATAFORSEO_LOGIN", "DATAFORSEO_PASSWORD", "DATAFORSEO_BASE_URL",
	"DATAFORSEO_LOCATION_CODE", "DATAFORSEO_LANGUAGE_CODE", "DATAFORSEO_MAX_RPS",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
	"CACHE_TTL", "CACHE_CLEANUP_SCHEDULE", "ACCESS_LOG_RETENTION", "WEBSITE_FETCH_TIMEOUT", "MAX_CONCURRENT_JOBS",
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}
	if len(missing) > 0 {
		return errors.New("missing required settings: " + strings.Join(missing, ", "))
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	return nil
}

func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "server_port=%s log_level=%s ", c.ServerPort, c.LogLevel)
	fmt.Fprintf(&sb, "database_url=%s redis_url=%s ", mask(c.DatabaseURL), c.RedisURL)
	fmt.Fprintf(&sb, "jwt_secret=%s admin_token=%s ", mask(c.JWTSecret), mask(c.AdminToken))
	fmt.Fprintf(&sb, "dataforseo_base_url=%s dataforseo_login=%s dataforseo_password=%s dataforseo_max_rps=%g ",
		c.DataForSEOBaseURL, c.DataForSEOLogin, mask(c.DataForSEOPassword), c.DataForSEOMaxRPS)
	fmt.Fprintf(&sb, "openai_base_url=%s openai_model=%s openai_api_key=%s ",
		c.OpenAIBaseURL, c.OpenAIModel, mask(c.OpenAIAPIKey))
	fmt.Fprintf(&sb, "cache_ttl=%s cache_cleanup_schedule=%q access_log_retention=%s ",
		c.CacheTTL, c.CacheCleanupSchedule, c.AccessLogRetention)
	fmt.Fprintf(&sb, "website_fetch_timeout=%s max_concurrent_jobs=%d", c.WebsiteFetchTimeout, c.MaxConcurrentJobs)
	return sb.String()
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}
