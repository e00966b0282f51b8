package environments

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Transport   TransportConfig
	Processor   ProcessorConfig
	WindowCache WindowCacheConfig
	Alert       AlertConfig
	Auth        AuthConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type TransportConfig struct {
	URL     string
	AuthKey string
	Timeout time.Duration
}

type ProcessorConfig struct {
	BatchSize          int
	ProcessInterval    time.Duration
	MaxConcurrentSends int
}

type WindowCacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

type AlertConfig struct {
	WebhookURL     string
	IterationCount int
}

type AuthConfig struct {
	CampaignsAPIKey string
	ProcessorAPIKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "broadcast"),
			Password: GetEnv("DB_PASSWORD", "broadcast123"),
			DBName:   GetEnv("DB_NAME", "crm_broadcast"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		Transport: TransportConfig{
			URL:     GetEnv("TRANSPORT_URL", "https://webhook.site/your-unique-id"),
			AuthKey: GetEnv("TRANSPORT_AUTH_KEY", ""),
			Timeout: time.Duration(GetEnvAsInt("TRANSPORT_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Processor: ProcessorConfig{
			BatchSize:          GetEnvAsInt("PROCESSOR_BATCH_SIZE", 50),
			ProcessInterval:    GetEnvAsDuration("PROCESSOR_INTERVAL", 30*time.Second),
			MaxConcurrentSends: GetEnvAsInt("PROCESSOR_MAX_CONCURRENT_SENDS", 5),
		},
		WindowCache: WindowCacheConfig{
			TTL:        GetEnvAsDuration("WINDOW_CACHE_TTL", time.Minute),
			MaxEntries: GetEnvAsInt("WINDOW_CACHE_MAX_ENTRIES", 4096),
		},
		Alert: AlertConfig{
			WebhookURL:     GetEnv("ALERT_WEBHOOK_URL", ""),
			IterationCount: GetEnvAsInt("ALERT_ITERATION_COUNT", 0),
		},
		Auth: AuthConfig{
			CampaignsAPIKey: GetEnv("CAMPAIGNS_API_KEY", ""),
			ProcessorAPIKey: GetEnv("PROCESSOR_API_KEY", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
