package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the reconciliation core.
// It follows the 12-factor methodology by prioritizing environment variables.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Pool     PoolConfig
	Outbox   OutboxConfig
}

type AppConfig struct {
	Environment   string
	OwnerIdentity string
}

type DatabaseConfig struct {
	Path string
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	InboundChannel string
	EffectsChannel string
}

type PoolConfig struct {
	Workers   int
	QueueSize int
}

type OutboxConfig struct {
	BatchSize       int
	IntervalSeconds int
	MaxRetries      int
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	return &Config{
		App: AppConfig{
			Environment:   getEnv("APP_ENV", "development"),
			OwnerIdentity: getEnv("OWNER_IDENTITY", ""),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "concord.db"),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			InboundChannel: getEnv("ENGINE_INBOUND_CHANNEL", "engine:inbound"),
			EffectsChannel: getEnv("ENGINE_EFFECTS_CHANNEL", "engine:effects"),
		},
		Pool: PoolConfig{
			Workers:   getEnvAsInt("POOL_WORKERS", 4),
			QueueSize: getEnvAsInt("POOL_QUEUE_SIZE", 256),
		},
		Outbox: OutboxConfig{
			BatchSize:       getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
			IntervalSeconds: getEnvAsInt("OUTBOX_INTERVAL_SECONDS", 2),
			MaxRetries:      getEnvAsInt("OUTBOX_MAX_RETRIES", 5),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
