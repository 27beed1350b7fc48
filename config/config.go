package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	ServerHost string `mapstructure:"SERVER_HOST"`
	ServerPort string `mapstructure:"SERVER_PORT"`
	GinMode    string `mapstructure:"GIN_MODE"`

	// Database configuration. DBDriver is "postgres" or "sqlite".
	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSL_MODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	// Redis configuration. An empty RedisURL selects the in-process cache.
	RedisURL      string `mapstructure:"REDIS_URL"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Admin API
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	AdminUsername     string        `mapstructure:"ADMIN_USERNAME"`
	AdminPasswordHash string        `mapstructure:"ADMIN_PASSWORD_HASH"`
	AdminTokenTTL     time.Duration `mapstructure:"ADMIN_TOKEN_TTL"`
	RateLimitPerMin   int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`

	// Analyzers
	NutritionixAppID  string        `mapstructure:"NUTRITIONIX_APP_ID"`
	NutritionixAppKey string        `mapstructure:"NUTRITIONIX_APP_KEY"`
	OpenAIAPIKey      string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `mapstructure:"OPENAI_BASE_URL"`
	AnalysisTimeout   time.Duration `mapstructure:"ANALYSIS_TIMEOUT"`
	CacheTTL          time.Duration `mapstructure:"CACHE_TTL"`
	CacheMaxEntries   int           `mapstructure:"CACHE_MAX_ENTRIES"`
	MaxUploadBytes    int64         `mapstructure:"MAX_UPLOAD_BYTES"`

	// Payments
	MercadoPagoAccessToken string `mapstructure:"MERCADOPAGO_ACCESS_TOKEN"`
	PaymentLink            string `mapstructure:"PAYMENT_LINK"`
	TrialDays              int    `mapstructure:"TRIAL_DAYS"`

	// Chat platform
	WebhookToken    string `mapstructure:"WEBHOOK_TOKEN"`
	DefaultLanguage string `mapstructure:"DEFAULT_LANGUAGE"`
	DefaultTimezone string `mapstructure:"DEFAULT_TIMEZONE"`

	// Optional sinks. Empty values disable them.
	AMQPURL       string `mapstructure:"AMQP_URL"`
	DispatchQueue string `mapstructure:"DISPATCH_QUEUE"`
	S3BucketName  string `mapstructure:"S3_BUCKET_NAME"`
	AWSRegion     string `mapstructure:"AWS_REGION"`
}

// secretKeys are read from Docker secrets (lower-cased file names) when the
// environment does not provide them.
var secretKeys = []string{
	"DB_PASSWORD",
	"REDIS_PASSWORD",
	"JWT_SECRET",
	"ADMIN_PASSWORD_HASH",
	"NUTRITIONIX_APP_KEY",
	"OPENAI_API_KEY",
	"MERCADOPAGO_ACCESS_TOKEN",
	"WEBHOOK_TOKEN",
}

var plainKeys = []string{
	"NUTRITIONIX_APP_ID",
	"PAYMENT_LINK",
	"AMQP_URL",
	"S3_BUCKET_NAME",
	"AWS_REGION",
	"REDIS_URL",
	"DB_USER",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "nutrilog")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("SQLITE_PATH", "nutrilog.db")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_TOKEN_TTL", "12h")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("CORS_ORIGINS", "*")

	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("ANALYSIS_TIMEOUT", "30s")
	v.SetDefault("CACHE_TTL", "24h")
	v.SetDefault("CACHE_MAX_ENTRIES", 10000)
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)

	v.SetDefault("TRIAL_DAYS", 7)
	v.SetDefault("DEFAULT_LANGUAGE", "pt")
	v.SetDefault("DEFAULT_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("DISPATCH_QUEUE", "nutrilog.dispatch")
}

// LoadConfig creates a new Config instance with values from environment variables or secrets
func LoadConfig() (*Config, error) {
	env := GetEnvironment()
	if env == Development {
		// A missing .env is normal outside a developer checkout.
		_ = godotenv.Load()
	}

	cfg, err := load(env)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s configuration: %w", env, err)
	}

	// Validate the configuration
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func load(env Environment) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	for _, key := range append(append([]string(nil), secretKeys...), plainKeys...) {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	// CI passes secrets as environment variables; everywhere else Docker
	// secrets take precedence.
	if env != CI {
		for _, key := range secretKeys {
			if value := readSecret(strings.ToLower(key)); value != "" {
				setSecret(cfg, key, value)
			}
		}
	}
	return cfg, nil
}

func setSecret(cfg *Config, key, value string) {
	switch key {
	case "DB_PASSWORD":
		cfg.DBPassword = value
	case "REDIS_PASSWORD":
		cfg.RedisPassword = value
	case "JWT_SECRET":
		cfg.JWTSecret = value
	case "ADMIN_PASSWORD_HASH":
		cfg.AdminPasswordHash = value
	case "NUTRITIONIX_APP_KEY":
		cfg.NutritionixAppKey = value
	case "OPENAI_API_KEY":
		cfg.OpenAIAPIKey = value
	case "MERCADOPAGO_ACCESS_TOKEN":
		cfg.MercadoPagoAccessToken = value
	case "WEBHOOK_TOKEN":
		cfg.WebhookToken = value
	}
}

// readSecret reads a Docker secret from the secrets directory
func readSecret(name string) string {
	secretsDir := os.Getenv("SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = "/run/secrets"
	}
	secretPath := filepath.Join(secretsDir, name)
	if data, err := os.ReadFile(secretPath); err == nil {
		return strings.TrimSpace(string(data))
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// PostgresDSN builds the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// TrialPeriod is the trial length as a duration.
func (c *Config) TrialPeriod() time.Duration {
	return time.Duration(c.TrialDays) * 24 * time.Hour
}

// AdminEnabled reports whether the admin API can issue tokens.
func (c *Config) AdminEnabled() bool {
	return c.JWTSecret != "" && c.AdminPasswordHash != ""
}
