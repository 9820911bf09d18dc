// Package config provides configuration types and loading for accelerd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/msmaccel/accelerd/internal/wire"
)

// Config is the root configuration struct. Values come from an optional JSON
// file overlaid by ACCELERD_* environment variables.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Sampler SamplerConfig `json:"sampler"`
	Audit   AuditConfig   `json:"audit"`
}

// ServerConfig contains the listening address of the coordination server.
type ServerConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig locates the sqlite database holding the trajectory ledger,
// model audit rows and message audit trail. An empty path selects an
// in-memory database that does not survive restarts.
type StorageConfig struct {
	DBPath string `json:"dbPath" envconfig:"DB_PATH"`
}

// SamplerConfig controls the adaptive sampling policy.
type SamplerConfig struct {
	// Beta is the exploration exponent: seed states are drawn with weight
	// proportional to population^Beta. 1 samples proportionally, 0
	// uniformly, >1 sharpens toward high-population states.
	Beta float64 `json:"beta" envconfig:"BETA"`

	// Tolerance bounds how far populations may deviate from summing to 1
	// before the sampler renormalizes with a warning.
	Tolerance float64 `json:"tolerance" envconfig:"TOLERANCE"`

	// InitialSeeds lists starting conformations handed out before the
	// first model exists, as "protocol:path" pairs (e.g.
	// "localfs:/data/ala5.pdb"). The pool cycles when smaller than the
	// number of simulators.
	InitialSeeds []string `json:"initialSeeds" envconfig:"INITIAL_SEEDS"`
}

// AuditConfig configures optional Kafka emission of the message audit
// stream. The sqlite trail is always written when storage is enabled.
type AuditConfig struct {
	KafkaEnabled bool   `json:"kafkaEnabled" envconfig:"KAFKA_ENABLED"`
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 12345,
		},
		Storage: StorageConfig{
			DBPath: "accelerd.db",
		},
		Sampler: SamplerConfig{
			Beta:      1,
			Tolerance: 1e-6,
		},
		Audit: AuditConfig{
			KafkaBrokers: "localhost:9092",
			KafkaTopic:   "accelerd.messages",
		},
	}
}

// Load reads the config file named by ACCELERD_CONFIG (if set and present),
// then applies environment overrides with the ACCELERD prefix.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv("ACCELERD_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("ACCELERD", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return cfg, nil
}

// ParseSeedLocators splits "protocol:path" seed entries into locators,
// rejecting entries without a protocol tag.
func ParseSeedLocators(entries []string) ([]wire.Locator, error) {
	out := make([]wire.Locator, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("bad initial seed %q: want protocol:path", e)
		}
		out = append(out, wire.Locator{Protocol: parts[0], Path: parts[1]})
	}
	return out, nil
}
