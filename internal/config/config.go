package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileConfig models the engine.json config file.
type FileConfig struct {
	Engine struct {
		CreationFeeBps      uint64 `json:"creationFeeBps"`
		SuccessFeeBps       uint64 `json:"successFeeBps"`
		ExpiryWindowSeconds int64  `json:"expiryWindowSeconds"`
		FeeCollector        string `json:"feeCollector"`
	} `json:"engine"`
	Secrets struct {
		HMACSecret string `json:"hmacSecret"`
	} `json:"secrets"`
	Timeouts struct {
		IdempotencyWindowSecs int `json:"idempotencyWindowSeconds"`
	} `json:"timeouts"`
	// Admin lists capability grants per caller address.
	Admin []AdminGrant `json:"admin"`
}

type AdminGrant struct {
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
}

// AppConfig ties together file config and derived values.
type AppConfig struct {
	File    FileConfig
	Service ServiceConfig
	Chain   ChainConfig
}

type ServiceConfig struct {
	HTTPPort          int
	HMACClockSkew     time.Duration
	IdempotencyWindow time.Duration
	SnapshotPath      string
	PostgresDSN       string
}

type ChainConfig struct {
	RPCURL     string
	PrivateKey string
}

const defaultConfigPath = "engine.json"

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	path := envOr("ENGINE_CONFIG_PATH", defaultConfigPath)

	fileCfg, err := loadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
		HMACClockSkew:     time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow: time.Duration(fileCfg.Timeouts.IdempotencyWindowSecs) * time.Second,
		SnapshotPath:      envOr("SNAPSHOT_PATH", filepath.Join(os.TempDir(), "offerx-state.json")),
		PostgresDSN:       envOr("POSTGRES_DSN", ""),
	}
	if serviceCfg.IdempotencyWindow <= 0 {
		serviceCfg.IdempotencyWindow = time.Minute
	}

	chainCfg := ChainConfig{
		RPCURL:     envOr("CHAIN_RPC_URL", ""),
		PrivateKey: envOr("CHAIN_PRIVATE_KEY", ""),
	}

	return &AppConfig{
		File:    *fileCfg,
		Service: serviceCfg,
		Chain:   chainCfg,
	}, nil
}

// ExpiryWindow returns the configured expiry window as a duration.
func (c *AppConfig) ExpiryWindow() time.Duration {
	return time.Duration(c.File.Engine.ExpiryWindowSeconds) * time.Second
}

func loadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
