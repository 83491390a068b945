package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	HTTP     ServerConfig
	Database DatabaseConfig
	Meta     MetaConfig
	OAuth    OAuthConfig
	Janus    JanusConfig
	Forward  ForwardConfig
	Mail     MailConfig
	Jobs     JobsConfig
	Log      LogConfig
}

type AppConfig struct {
	ServiceName string
	// PublicURL is the externally reachable base URL, used for the signup callback.
	PublicURL string
	AdminKey  string
	Enabled   bool
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	URL        string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
	LogLevel   string
}

type MetaConfig struct {
	AppID              string
	AppSecret          string
	ConfigurationID    string
	APIVersion         string
	GraphBaseURL       string
	DialogBaseURL      string
	WebhookVerifyToken string
	Timeout            time.Duration
	RetryCount         int
	RequestsPerSecond  float64
}

type OAuthConfig struct {
	// SigningSecret signs access and refresh tokens. Falls back to the webhook verify token.
	SigningSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	CodeTTL       time.Duration
}

type JanusConfig struct {
	WSURL          string
	AdminURL       string
	Plugin         string
	SessionTimeout time.Duration
	RoomExpiry     time.Duration
	STUNServers    []string
	TURNURL        string
	TURNUsername   string
	TURNCredential string
}

type ForwardConfig struct {
	WebhookPath string
	Timeout     time.Duration
	Workers     int
	QueueSize   int
	RetryCount  int
}

type MailConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
}

type JobsConfig struct {
	Scheduler           bool
	AggregationInterval time.Duration
	CleanupInterval     time.Duration
	InvoiceInterval     time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "whatsapp-provider"),
			PublicURL:   strings.TrimRight(getEnv("APP_PUBLIC_URL", "http://localhost:8080"), "/"),
			AdminKey:    getEnv("ADMIN_API_KEY", ""),
			Enabled:     getBoolEnv("PROVIDER_ENABLED", true),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			URL:        getEnv("DATABASE_URL", ""),
			Host:       getEnv("DB_HOST", ""),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			Name:       getEnv("DB_NAME", "whatsapp_provider"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_PATH", "./provider.db"),
			LogLevel:   getEnv("DB_LOG_LEVEL", "warn"),
		},
		Meta: MetaConfig{
			AppID:              getEnv("META_APP_ID", ""),
			AppSecret:          getEnv("META_APP_SECRET", ""),
			ConfigurationID:    getEnv("META_CONFIGURATION_ID", ""),
			APIVersion:         getEnv("META_API_VERSION", "v21.0"),
			GraphBaseURL:       strings.TrimRight(getEnv("META_GRAPH_URL", "https://graph.facebook.com"), "/"),
			DialogBaseURL:      strings.TrimRight(getEnv("META_DIALOG_URL", "https://www.facebook.com"), "/"),
			WebhookVerifyToken: getEnv("VERIFY_TOKEN", ""),
			Timeout:            getSecondsEnv("META_TIMEOUT_SECONDS", 30*time.Second),
			RetryCount:         getIntEnv("META_RETRY_COUNT", 2),
			RequestsPerSecond:  getFloatEnv("META_REQUESTS_PER_SECOND", 20),
		},
		OAuth: OAuthConfig{
			SigningSecret: getEnv("OAUTH_SIGNING_SECRET", ""),
			AccessExpiry:  getSecondsEnv("OAUTH_TOKEN_EXPIRY_SECONDS", 3600*time.Second),
			RefreshExpiry: getSecondsEnv("OAUTH_REFRESH_EXPIRY_SECONDS", 2592000*time.Second),
			CodeTTL:       getSecondsEnv("OAUTH_CODE_TTL_SECONDS", 600*time.Second),
		},
		Janus: JanusConfig{
			WSURL:          getEnv("JANUS_WS_URL", ""),
			AdminURL:       getEnv("JANUS_ADMIN_URL", ""),
			Plugin:         getEnv("JANUS_PLUGIN", "janus.plugin.videoroom"),
			SessionTimeout: getSecondsEnv("JANUS_SESSION_TIMEOUT_SECONDS", 60*time.Second),
			RoomExpiry:     getSecondsEnv("JANUS_ROOM_EXPIRY_SECONDS", 3600*time.Second),
			STUNServers:    getListEnv("JANUS_STUN_SERVERS", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}),
			TURNURL:        getEnv("TURN_SERVER_URL", ""),
			TURNUsername:   getEnv("TURN_USERNAME", ""),
			TURNCredential: getEnv("TURN_CREDENTIAL", ""),
		},
		Forward: ForwardConfig{
			WebhookPath: getEnv("CUSTOMER_WEBHOOK_PATH", "/api/method/walue_whatsapp_client.api.webhooks.receive"),
			Timeout:     getSecondsEnv("FORWARD_TIMEOUT_SECONDS", 5*time.Second),
			Workers:     getIntEnv("FORWARD_WORKERS", 4),
			QueueSize:   getIntEnv("FORWARD_QUEUE_SIZE", 1024),
			RetryCount:  getIntEnv("FORWARD_RETRY_COUNT", 2),
		},
		Mail: MailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromEmail:      getEnv("MAIL_FROM_EMAIL", "billing@example.com"),
			FromName:       getEnv("MAIL_FROM_NAME", "WhatsApp Provider Billing"),
		},
		Jobs: JobsConfig{
			Scheduler:           getBoolEnv("JOBS_SCHEDULER", true),
			AggregationInterval: getDurationEnv("AGGREGATION_INTERVAL_MINUTES", time.Hour),
			CleanupInterval:     getDurationEnv("CLEANUP_INTERVAL_MINUTES", 24*time.Hour),
			InvoiceInterval:     getDurationEnv("INVOICE_INTERVAL_MINUTES", 24*time.Hour),
		},
		Log: LogConfig{Level: getEnv("LOG_LEVEL", "info")},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" && c.Database.Host == "" {
			return errors.New("DATABASE_URL or DB_HOST is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	return nil
}

// TokenSecret returns the secret used to sign OAuth tokens.
func (c *Config) TokenSecret() string {
	if c.OAuth.SigningSecret != "" {
		return c.OAuth.SigningSecret
	}
	return c.Meta.WebhookVerifyToken
}

// ValidateProvider reports the settings that must be present before the provider can serve Meta traffic.
func (c *Config) ValidateProvider() error {
	if !c.App.Enabled {
		return nil
	}
	if c.Meta.AppID == "" {
		return errors.New("Meta App ID is required when provider is enabled")
	}
	if c.Meta.AppSecret == "" {
		return errors.New("Meta App Secret is required when provider is enabled")
	}
	if c.Meta.WebhookVerifyToken == "" {
		return errors.New("Webhook Verify Token is required when provider is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return fallback
}

func getSecondsEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getListEnv(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
