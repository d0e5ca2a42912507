package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port            string
		GRPCPort        string
		Env             string
		ShutdownTimeout time.Duration
	}

	// Database configuration
	Database struct {
		Driver   string // postgres, mysql or sqlite
		DSN      string // overrides the discrete fields when set
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Retries  int
		Timeout  time.Duration
	}

	// JWT configuration
	JWT struct {
		Secret     string
		Expiry     time.Duration
		CookieName string
		Secure     bool
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Redis backs the auth session store; empty address means in-memory sessions.
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// Chat holds the websocket and fan-out tuning knobs.
	Chat struct {
		HistoryLimit      int
		MaxMessageSize    int64
		SendBuffer        int
		MessageRate       float64
		MessageBurst      int
		StoreTimeout      time.Duration
		BreakerThreshold  uint
		BreakerRetryAfter time.Duration
	}

	// Moderation configures the profanity filter.
	Moderation struct {
		AdditionalTerms []string
		WordlistFile    string
		WarningMessage  string
	}

	// Rabbit configures the moderation audit publisher; empty URL disables it.
	Rabbit struct {
		URL   string
		Queue string
	}

	// Vault configures the secrets manager.
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		Mount       string
		SecretsPath string
	}

	// Observability toggles tracing output.
	Observability struct {
		ServiceName    string
		TracingEnabled bool
	}

	// OpenAPISchemaPath enables request validation when set.
	OpenAPISchemaPath string
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads the configuration from the environment without touching the
// singleton. Tests use it directly.
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "3000")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Database.Driver = strings.ToLower(getEnvString("DB_DRIVER", "postgres"))
	cfg.Database.DSN = getEnvString("DB_DSN", "")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "chatroom")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Retries = getEnvInt("DB_RETRIES", 5)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	cfg.JWT.Secret = getEnvString("SESSION_SECRET", getEnvString("JWT_SECRET", "your-secret-key"))
	cfg.JWT.Expiry = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.JWT.CookieName = getEnvString("SESSION_COOKIE", "chatroom_session")

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Redis.Addr = getEnvString("REDIS_ADDR", "")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Chat.HistoryLimit = getEnvInt("CHAT_HISTORY_LIMIT", 50)
	cfg.Chat.MaxMessageSize = getEnvInt64("CHAT_MAX_MESSAGE_SIZE", 4096)
	cfg.Chat.SendBuffer = getEnvInt("CHAT_SEND_BUFFER", 256)
	cfg.Chat.MessageRate = getEnvFloat("CHAT_MESSAGE_RATE", 5)
	cfg.Chat.MessageBurst = getEnvInt("CHAT_MESSAGE_BURST", 10)
	cfg.Chat.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.Chat.BreakerThreshold = uint(getEnvInt("STORE_BREAKER_THRESHOLD", 5))
	cfg.Chat.BreakerRetryAfter = getEnvDuration("STORE_BREAKER_RETRY", 30*time.Second)

	cfg.Moderation.AdditionalTerms = getEnvStringSlice("MODERATION_ADDITIONAL_TERMS", []string{"idiot", "stupid", "maniac"})
	cfg.Moderation.WordlistFile = getEnvString("MODERATION_WORDLIST_FILE", "")
	cfg.Moderation.WarningMessage = getEnvString("MODERATION_WARNING",
		"⚠️ Warning: Please avoid using inappropriate language in the chat room.")

	cfg.Rabbit.URL = getEnvString("RABBIT_URL", "")
	cfg.Rabbit.Queue = getEnvString("RABBIT_QUEUE", "chatroom.moderation")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", os.Getenv("VAULT_ADDR") != "")
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "chatroom")

	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "chatroom")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)

	cfg.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")

	cfg.JWT.Secure = cfg.Server.Env == "production"

	return cfg
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
