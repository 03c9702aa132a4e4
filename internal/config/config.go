/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables with an
 * optional .env file, providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-sync-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	Environment         string `mapstructure:"ENVIRONMENT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	RedisURL            string `mapstructure:"REDIS_URL"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	LedgerEventExchange string `mapstructure:"LEDGER_EVENT_EXCHANGE"`
	PlaidAPIBaseURL     string `mapstructure:"PLAID_API_BASE_URL"`
	PlaidClientID       string `mapstructure:"PLAID_CLIENT_ID"`
	PlaidSecret         string `mapstructure:"PLAID_SECRET"`
	PlaidWebhookJWKSURL string `mapstructure:"PLAID_WEBHOOK_JWKS_URL"`
	InternalAPIKey      string `mapstructure:"INTERNAL_API_KEY"`
	SyncPageSize        int    `mapstructure:"SYNC_PAGE_SIZE"`
	SyncLockTTLSeconds  int    `mapstructure:"SYNC_LOCK_TTL_SECONDS"`
	CatchupSyncSchedule string `mapstructure:"CATCHUP_SYNC_SCHEDULE"`
	StaleSyncHours      int    `mapstructure:"STALE_SYNC_HOURS"`
}

// IsProduction reports whether the service runs with production policy, which
// makes webhook verification fail closed when no JWKS URL is configured.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LEDGER_EVENT_EXCHANGE", "transfa.events")
	viper.SetDefault("PLAID_API_BASE_URL", "https://sandbox.plaid.com")
	viper.SetDefault("SYNC_PAGE_SIZE", 100)
	viper.SetDefault("SYNC_LOCK_TTL_SECONDS", 300)
	viper.SetDefault("CATCHUP_SYNC_SCHEDULE", "17 */6 * * *")
	viper.SetDefault("STALE_SYNC_HOURS", 24)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("ENVIRONMENT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENT_EXCHANGE")
	_ = viper.BindEnv("PLAID_API_BASE_URL")
	_ = viper.BindEnv("PLAID_CLIENT_ID")
	_ = viper.BindEnv("PLAID_SECRET")
	_ = viper.BindEnv("PLAID_WEBHOOK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SYNC_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SYNC_PAGE_SIZE")
	_ = viper.BindEnv("SYNC_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("CATCHUP_SYNC_SCHEDULE")
	_ = viper.BindEnv("STALE_SYNC_HOURS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SYNC_SERVICE_INTERNAL_API_KEY"))
	}
	config.PlaidWebhookJWKSURL = strings.TrimSpace(config.PlaidWebhookJWKSURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	if config.SyncPageSize <= 0 {
		config.SyncPageSize = 100
	}
	if config.SyncPageSize > 500 {
		log.Printf("level=warn component=config msg=\"sync page size too large; capping at 500\" page_size=%d", config.SyncPageSize)
		config.SyncPageSize = 500
	}
	if config.SyncLockTTLSeconds <= 0 {
		config.SyncLockTTLSeconds = 300
	}
	if config.StaleSyncHours <= 0 {
		config.StaleSyncHours = 24
	}
	if strings.TrimSpace(config.CatchupSyncSchedule) == "" {
		config.CatchupSyncSchedule = "17 */6 * * *"
	}

	return
}
