// Package config loads the process-wide configuration bundle from the
// environment variables enumerated in the spec, once per process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the govindex process-wide configuration,
// populated once at startup and read-only thereafter.
type Config struct {
	Environment string

	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig

	Chains     ChainsConfig
	Embeddings EmbeddingsConfig

	BetterStackKey string
}

// ServerConfig is the health-check HTTP server's configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds the storage DSN and pool tuning.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationPath   string
}

// RedisConfig holds the embedding-cache backend.
type RedisConfig struct {
	URL string
}

// LoggingConfig controls the zap wrapper.
type LoggingConfig struct {
	Level  string
	Format string
}

// ChainNodeConfig is one chain's JSON-RPC endpoint plus explorer creds.
type ChainNodeConfig struct {
	NodeURL        string
	ExplorerAPIURL string
	ExplorerAPIKey string
}

// ChainsConfig is the per-chain registry bootstrap data (spec.md §4.1, §6).
type ChainsConfig struct {
	Ethereum  ChainNodeConfig
	Arbitrum  ChainNodeConfig
	Optimism  ChainNodeConfig
	Polygon   ChainNodeConfig
	Avalanche ChainNodeConfig
}

// EmbeddingsConfig configures the Ollama-compatible embedding service.
type EmbeddingsConfig struct {
	Host      string
	Port      int
	Model     string
	BatchSize int
}

// Load reads Config from the process environment. Missing required
// variables (DATABASE_URL) are fatal via the returned error; everything
// else defaults per spec.md §4/§6.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvDefault("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host: getEnvDefault("SERVER_HOST", "0.0.0.0"),
			Port: getEnvIntDefault("SERVER_PORT", 3000),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvIntDefault("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvIntDefault("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDurationDefault("DATABASE_CONN_MAX_LIFETIME", time.Hour),
			MigrationPath:   getEnvDefault("DATABASE_MIGRATION_PATH", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Logging: LoggingConfig{
			Level:  getEnvDefault("LOG_LEVEL", "info"),
			Format: getEnvDefault("LOG_FORMAT", "json"),
		},
		Chains: ChainsConfig{
			Ethereum: ChainNodeConfig{
				NodeURL:        os.Getenv("ETHEREUM_NODE_URL"),
				ExplorerAPIURL: "https://api.etherscan.io/api",
				ExplorerAPIKey: os.Getenv("ETHERSCAN_API_KEY"),
			},
			Arbitrum: ChainNodeConfig{
				NodeURL:        os.Getenv("ARBITRUM_NODE_URL"),
				ExplorerAPIURL: "https://api.arbiscan.io/api",
				ExplorerAPIKey: os.Getenv("ARBISCAN_API_KEY"),
			},
			Optimism: ChainNodeConfig{
				NodeURL:        os.Getenv("OPTIMISM_NODE_URL"),
				ExplorerAPIURL: "https://api-optimistic.etherscan.io/api",
				ExplorerAPIKey: os.Getenv("OPTIMISTIC_SCAN_API_KEY"),
			},
			Polygon: ChainNodeConfig{
				NodeURL: os.Getenv("POLYGON_NODE_URL"),
			},
			Avalanche: ChainNodeConfig{
				NodeURL: os.Getenv("AVALANCHE_NODE_URL"),
			},
		},
		Embeddings: EmbeddingsConfig{
			Host:      getEnvDefault("OLLAMA_HOST", "localhost"),
			Port:      getEnvIntDefault("OLLAMA_PORT", 11434),
			Model:     getEnvDefault("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			BatchSize: getEnvIntDefault("OLLAMA_BATCH_SIZE", 32),
		},
		BetterStackKey: os.Getenv("BETTERSTACK_KEY"),
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
