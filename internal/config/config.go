package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/better-wallet/custody-core/internal/keyexec"
)

// Config holds process-level configuration, read once from the environment.
type Config struct {
	// Database
	PostgresDSN string

	// Key management
	KMSProvider        string // local, aws-kms or vault
	KMSLocalMasterKey  string
	KMSAWSKeyID        string
	KMSAWSRegion       string
	KMSVaultAddress    string
	KMSVaultToken      string
	KMSVaultTransitKey string

	// Bitcoin
	BitcoinRPCHost string
	BitcoinRPCUser string
	BitcoinRPCPass string
	BitcoinNetwork string // mainnet, testnet3, regtest, signet

	// Ethereum
	EthRPCURL         string
	USDTERC20Contract string

	// Tron
	TronGRPCURL       string
	TronAPIKey        string
	USDTTRC20Contract string
	TronFeeLimit      int64 // sun

	// Messaging
	KafkaBrokers           []string
	KafkaGroupID           string
	WithdrawalRequestTopic string
	WithdrawalStatusTopic  string
	WalletCommandTopic     string
	StatusPublisher        string // kafka or redis
	RedisAddr              string
	RedisStreamMaxLen      int64

	// Per-chain token bucket rate, 0 disables limiting
	ChainRateLimitRPS float64

	// Server
	Port int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		KMSProvider:        getEnv("KMS_PROVIDER", "local"),
		KMSLocalMasterKey:  getEnv("KMS_LOCAL_MASTER_KEY", ""),
		KMSAWSKeyID:        getEnv("KMS_AWS_KEY_ID", ""),
		KMSAWSRegion:       getEnv("KMS_AWS_REGION", ""),
		KMSVaultAddress:    getEnv("KMS_VAULT_ADDRESS", ""),
		KMSVaultToken:      getEnv("KMS_VAULT_TOKEN", ""),
		KMSVaultTransitKey: getEnv("KMS_VAULT_TRANSIT_KEY", ""),

		BitcoinRPCHost: getEnv("BITCOIN_RPC_HOST", ""),
		BitcoinRPCUser: getEnv("BITCOIN_RPC_USER", ""),
		BitcoinRPCPass: getEnv("BITCOIN_RPC_PASS", ""),
		BitcoinNetwork: getEnv("BITCOIN_NETWORK", "mainnet"),

		EthRPCURL:         getEnv("ETH_RPC_URL", ""),
		USDTERC20Contract: getEnv("USDT_ERC20_CONTRACT", "0xdAC17F958D2ee523a2206206994597C13D831ec7"),

		TronGRPCURL:       getEnv("TRON_GRPC_URL", "grpc.trongrid.io:50051"),
		TronAPIKey:        getEnv("TRON_API_KEY", ""),
		USDTTRC20Contract: getEnv("USDT_TRC20_CONTRACT", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
		TronFeeLimit:      getEnvInt64("TRON_FEE_LIMIT", 100_000_000),

		KafkaBrokers:           getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "custody-core"),
		WithdrawalRequestTopic: getEnv("WITHDRAWAL_REQUEST_TOPIC", "withdrawal.requested"),
		WithdrawalStatusTopic:  getEnv("WITHDRAWAL_STATUS_TOPIC", "withdrawal.status"),
		WalletCommandTopic:     getEnv("WALLET_COMMAND_TOPIC", "wallet.commands"),
		StatusPublisher:        getEnv("STATUS_PUBLISHER", "kafka"),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		RedisStreamMaxLen:      getEnvInt64("REDIS_STREAM_MAXLEN", 100_000),

		ChainRateLimitRPS: getEnvFloat("CHAIN_RATE_LIMIT_RPS", 5),

		Port: getEnvInt("PORT", 8080),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	switch keyexec.KMSProviderType(c.KMSProvider) {
	case keyexec.KMSProviderLocal:
		if c.KMSLocalMasterKey == "" {
			return fmt.Errorf("KMS_LOCAL_MASTER_KEY is required when KMS_PROVIDER is 'local'")
		}
	case keyexec.KMSProviderAWSKMS:
		if c.KMSAWSKeyID == "" || c.KMSAWSRegion == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID and KMS_AWS_REGION are required when KMS_PROVIDER is 'aws-kms'")
		}
	case keyexec.KMSProviderVault:
		if c.KMSVaultAddress == "" || c.KMSVaultToken == "" || c.KMSVaultTransitKey == "" {
			return fmt.Errorf("KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY are required when KMS_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("KMS_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.KMSProvider)
	}

	switch c.BitcoinNetwork {
	case "mainnet", "testnet3", "regtest", "signet":
	default:
		return fmt.Errorf("BITCOIN_NETWORK must be mainnet, testnet3, regtest or signet, got: %s", c.BitcoinNetwork)
	}

	if c.StatusPublisher != "kafka" && c.StatusPublisher != "redis" {
		return fmt.Errorf("STATUS_PUBLISHER must be 'kafka' or 'redis', got: %s", c.StatusPublisher)
	}

	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}

	if c.TronFeeLimit <= 0 {
		return fmt.Errorf("TRON_FEE_LIMIT must be positive")
	}

	if c.ChainRateLimitRPS < 0 {
		return fmt.Errorf("CHAIN_RATE_LIMIT_RPS must not be negative")
	}

	return nil
}

// KMSConfig returns the provider configuration for keyexec.NewKMSProvider.
func (c *Config) KMSConfig() *keyexec.KMSConfig {
	return &keyexec.KMSConfig{
		Provider:          c.KMSProvider,
		LocalMasterKeyHex: c.KMSLocalMasterKey,
		AWSKMSKeyID:       c.KMSAWSKeyID,
		AWSKMSRegion:      c.KMSAWSRegion,
		VaultAddress:      c.KMSVaultAddress,
		VaultToken:        c.KMSVaultToken,
		VaultTransitKey:   c.KMSVaultTransitKey,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
