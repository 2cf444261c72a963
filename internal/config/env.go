// Package config loads the environment-variable driven configuration
// described in spec §6, following the teacher's main.go style of reading
// flags and raw env vars directly into a plain struct rather than a
// third-party struct-tag decoder. github.com/joho/godotenv loads a .env
// file first, matching discordcore's local-development convenience, then
// falls through to the real process environment so production deployments
// (which set real env vars, not a .env file) are unaffected.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultPoolConnections = 5
const defaultClusterIdentifier = "gearbot"

// Config is every environment-derived setting a cluster instance needs to
// start. Fields mirror spec §6's variable list one-for-one.
type Config struct {
	DatabaseURL       string
	EncryptionKey     []byte
	PoolConnections   int32
	KafkaBootstrap    []string
	ClusterIdentifier string
	BotToken          string
	ProxyURL          string
}

// Topic returns the message-queue topic this cluster instance consumes
// and its front-end publishes to, per spec's "one topic per cluster"
// naming rule.
func (c *Config) Topic(clusterID int) string {
	return fmt.Sprintf("%s_cluster_%d", c.ClusterIdentifier, clusterID)
}

// Load reads a .env file if present (ignored if missing) and then the
// process environment, returning an error naming the first missing
// required variable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ClusterIdentifier: defaultClusterIdentifier,
		PoolConnections:   defaultPoolConnections,
	}

	var ok bool
	if cfg.DatabaseURL, ok = os.LookupEnv("DATABASE_URL"); !ok || cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	key, ok := os.LookupEnv("ENCRYPTION_KEY")
	if !ok || key == "" {
		return nil, fmt.Errorf("config: ENCRYPTION_KEY is required")
	}
	cfg.EncryptionKey = []byte(key)

	bootstrap, ok := os.LookupEnv("KAFKA_BOOTSTRAP")
	if !ok || bootstrap == "" {
		return nil, fmt.Errorf("config: KAFKA_BOOTSTRAP is required")
	}
	cfg.KafkaBootstrap = splitBrokers(bootstrap)

	if cfg.BotToken, ok = os.LookupEnv("BOT_TOKEN"); !ok || cfg.BotToken == "" {
		return nil, fmt.Errorf("config: BOT_TOKEN is required")
	}

	if id, ok := os.LookupEnv("CLUSTER_IDENTIFIER"); ok && id != "" {
		cfg.ClusterIdentifier = id
	}

	if poolStr, ok := os.LookupEnv("POOL_CONNECTIONS"); ok && poolStr != "" {
		n, err := strconv.ParseInt(poolStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: POOL_CONNECTIONS is not an integer: %w", err)
		}
		cfg.PoolConnections = int32(n)
	}

	cfg.ProxyURL = os.Getenv("PROXY_URL")

	return cfg, nil
}

// RateLimiterDisabled reports whether PROXY_URL was set, per spec §6: a
// proxy is assumed to own rate limiting itself.
func (c *Config) RateLimiterDisabled() bool {
	return c.ProxyURL != ""
}

func splitBrokers(raw string) []string {
	brokers := make([]string, 0, 1)
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				brokers = append(brokers, raw[start:i])
			}
			start = i + 1
		}
	}
	return brokers
}
