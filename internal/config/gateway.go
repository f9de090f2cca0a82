package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

type GatewayConfig struct {
	Development bool
	// API configuration
	APIPort int
	// APIKey authenticates the chat front-end.
	APIKey string

	// Database configuration. DatabaseDriver is "postgres" or "sqlite".
	DatabaseDriver   string
	SQLitePath       string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string

	// Queue configuration. QueueBackend is "redis" or "memory".
	QueueBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Node management
	ProvisioningSecret string
	NodeTokenSecret    string
	NodeTokenTTL       time.Duration
	NodeRequestTimeout time.Duration
	HealthInterval     time.Duration
	// SingleNodeOverflow lets the only active node take clients past its capacity.
	SingleNodeOverflow bool
	ConfigsDir         string

	// Lifecycle
	SweepInterval  time.Duration
	ReminderWindow time.Duration

	// Notification configuration
	TelegramBotToken string

	// Custodial invoices (CryptoCloud)
	CryptoCloudAPIURL string
	CryptoCloudAPIKey string
	CryptoCloudShopID string
	CryptoCloudSecret string

	// On-chain payments
	PaymentTolerance   float64
	TronGridURL        string
	TronGridAPIKey     string
	TronDepositAddress string
	TronUSDTContract   string
	CoreRPCURL         string
	CoreDepositAddress string
	CoreTokenContract  string
	CoreNetworkID      int64
	CoreLookbackBlocks int

	// PostbackRateLimit is the allowed postbacks per second.
	PostbackRateLimit float64
}

// LoadGatewayConfig loads the gateway configuration from environment variables
func LoadGatewayConfig() (*GatewayConfig, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &GatewayConfig{
		Development:    getEnvAsBool("DEVELOPMENT", false),
		APIPort:        getEnvAsInt("API_PORT", 8080),
		APIKey:         getEnv("API_KEY", ""),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		SQLitePath:     getEnv("SQLITE_PATH", "gateway.db"),

		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "vpn"),

		QueueBackend:  getEnv("QUEUE_BACKEND", "redis"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		ProvisioningSecret: getEnv("REG_TOKEN", ""),
		NodeTokenSecret:    getEnv("NODE_TOKEN_SECRET", ""),
		NodeTokenTTL:       getEnvAsDuration("NODE_TOKEN_TTL", 60*time.Minute),
		NodeRequestTimeout: getEnvAsDuration("NODE_REQUEST_TIMEOUT", 30*time.Second),
		HealthInterval:     getEnvAsDuration("HEALTH_INTERVAL", 5*time.Minute),
		SingleNodeOverflow: getEnvAsBool("SINGLE_NODE_OVERFLOW", true),
		ConfigsDir:         getEnv("CONFIGS_DIR", "configs"),

		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", 20*time.Second),
		ReminderWindow: getEnvAsDuration("REMINDER_WINDOW", 72*time.Hour),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		CryptoCloudAPIURL: getEnv("CRYPTOCLOUD_API_URL", "https://api.cryptocloud.plus"),
		CryptoCloudAPIKey: getEnv("CRYPTOCLOUD_API_KEY", ""),
		CryptoCloudShopID: getEnv("CRYPTOCLOUD_SHOP_ID", ""),
		CryptoCloudSecret: getEnv("CRYPTOCLOUD_SECRET", ""),

		PaymentTolerance:   getEnvAsFloat("PAYMENT_TOLERANCE", 0.1),
		TronGridURL:        getEnv("TRONGRID_URL", "https://api.trongrid.io"),
		TronGridAPIKey:     getEnv("TRONGRID_API_KEY", ""),
		TronDepositAddress: getEnv("TRON_DEPOSIT_ADDRESS", ""),
		TronUSDTContract:   getEnv("TRON_USDT_CONTRACT", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
		CoreRPCURL:         getEnv("CORE_RPC_URL", ""),
		CoreDepositAddress: getEnv("CORE_DEPOSIT_ADDRESS", ""),
		CoreTokenContract:  getEnv("CORE_TOKEN_CONTRACT", ""),
		CoreNetworkID:      getEnvAsInt64("CORE_NETWORK_ID", 1),
		CoreLookbackBlocks: getEnvAsInt("CORE_LOOKBACK_BLOCKS", 2000),

		PostbackRateLimit: getEnvAsFloat("POSTBACK_RATE_LIMIT", 20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *GatewayConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.ProvisioningSecret == "" {
		return fmt.Errorf("REG_TOKEN is required")
	}
	if c.NodeTokenSecret == "" {
		return fmt.Errorf("NODE_TOKEN_SECRET is required")
	}
	if c.NodeTokenTTL <= 0 {
		return fmt.Errorf("NODE_TOKEN_TTL must be positive")
	}
	if c.SweepInterval <= 0 || c.HealthInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and HEALTH_INTERVAL must be positive")
	}

	switch c.DatabaseDriver {
	case "postgres":
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.QueueBackend {
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}

	if c.PaymentTolerance < 0 {
		return fmt.Errorf("PAYMENT_TOLERANCE cannot be negative")
	}
	if c.CryptoCloudAPIKey != "" && c.CryptoCloudShopID == "" {
		return fmt.Errorf("CRYPTOCLOUD_SHOP_ID is required when CRYPTOCLOUD_API_KEY is set")
	}
	if c.CoreRPCURL != "" && (c.CoreDepositAddress == "" || c.CoreTokenContract == "") {
		return fmt.Errorf("CORE_DEPOSIT_ADDRESS and CORE_TOKEN_CONTRACT are required when CORE_RPC_URL is set")
	}
	return nil
}
