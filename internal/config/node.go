package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

type NodeConfig struct {
	Development bool
	APIPort     int

	// Identity declared to the gateway
	ExternalID string
	// PublicURL is the base URL the gateway uses to reach this node's API.
	PublicURL  string
	Name       string
	Country    string
	MaxClients int

	// Gateway registration
	GatewayURL         string
	ProvisioningSecret string
	NodeTokenSecret    string
	IdentityPath       string
	RegisterTimeout    time.Duration

	// Local state
	DBPath string

	// WireGuard
	Interface       string
	Subnet          string
	ServerPublicKey string
	// ClientEndpoint is written into client configs, e.g. 203.0.113.7:443.
	ClientEndpoint string
	DNS            string
	AllowedIPs     string
	Keepalive      int
}

// LoadNodeConfig loads the node configuration from environment variables
func LoadNodeConfig() (*NodeConfig, error) {
	_ = godotenv.Load()

	cfg := &NodeConfig{
		Development: getEnvAsBool("DEVELOPMENT", false),
		APIPort:     getEnvAsInt("API_PORT", 8000),

		ExternalID: getEnv("SERVER_ID", ""),
		PublicURL:  getEnv("PUBLIC_URL", ""),
		Name:       getEnv("SERVER_NAME", ""),
		Country:    getEnv("SERVER_COUNTRY", ""),
		MaxClients: getEnvAsInt("MAX_COUNT_USERS", 250),

		GatewayURL:         getEnv("GATEWAY_URL", "http://localhost:8080"),
		ProvisioningSecret: getEnv("REG_TOKEN", ""),
		NodeTokenSecret:    getEnv("NODE_TOKEN_SECRET", ""),
		IdentityPath:       getEnv("IDENTITY_PATH", "identity.json"),
		RegisterTimeout:    getEnvAsDuration("REGISTER_TIMEOUT", 30*time.Second),

		DBPath: getEnv("DB_PATH", "node.db"),

		Interface:       getEnv("WG_INTERFACE", "wg0"),
		Subnet:          getEnv("WG_SUBNET", "10.0.0.0/24"),
		ServerPublicKey: getEnv("WG_PUBLIC_KEY", ""),
		ClientEndpoint:  getEnv("WG_ENDPOINT", ""),
		DNS:             getEnv("WG_DNS", "1.1.1.1"),
		AllowedIPs:      getEnv("WG_ALLOWED_IPS", "0.0.0.0/0"),
		Keepalive:       getEnvAsInt("WG_KEEPALIVE", 25),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *NodeConfig) Validate() error {
	if c.ExternalID == "" {
		return fmt.Errorf("SERVER_ID is required")
	}
	if c.PublicURL == "" {
		return fmt.Errorf("PUBLIC_URL is required")
	}
	if c.ClientEndpoint == "" {
		return fmt.Errorf("WG_ENDPOINT is required")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.NodeTokenSecret == "" {
		return fmt.Errorf("NODE_TOKEN_SECRET is required")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("MAX_COUNT_USERS must be positive")
	}
	if c.Subnet == "" {
		return fmt.Errorf("WG_SUBNET is required")
	}
	return nil
}
