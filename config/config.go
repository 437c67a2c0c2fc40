package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"jobescrow/core/genesis"
	"jobescrow/native/jobs"
)

// SecretEnv overrides auth.HMACSecret when set, so the secret can stay out of
// the config file.
const SecretEnv = "JOBD_AUTH_SECRET"

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	NetworkName   string `toml:"NetworkName"`
	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`
	LogLevel      string `toml:"LogLevel"`

	Jobs      JobsConfig      `toml:"jobs"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Index     IndexConfig     `toml:"index"`
	Genesis   genesis.Spec    `toml:"genesis"`
}

// JobsConfig is the record retention window in ledger seconds.
type JobsConfig struct {
	LifetimeMin uint64 `toml:"lifetime_min"`
	LifetimeMax uint64 `toml:"lifetime_max"`
}

func (j JobsConfig) Lifetime() jobs.Lifetime {
	return jobs.Lifetime{Min: j.LifetimeMin, Max: j.LifetimeMax}
}

type AuthConfig struct {
	HMACSecret string `toml:"hmac_secret"`
	Issuer     string `toml:"issuer"`
	Audience   string `toml:"audience"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	Traces      bool    `toml:"traces"`
	Metrics     bool    `toml:"metrics"`
	Headers     string  `toml:"headers"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// IndexConfig locates the SQLite job index. An empty path disables it.
type IndexConfig struct {
	Path string `toml:"path"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
		}
	}

	if secret := strings.TrimSpace(os.Getenv(SecretEnv)); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./job-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "jobs-local"
	}
	if c.Jobs.LifetimeMin == 0 && c.Jobs.LifetimeMax == 0 {
		c.Jobs.LifetimeMin = jobs.DefaultLifetime.Min
		c.Jobs.LifetimeMax = jobs.DefaultLifetime.Max
	}
	if strings.TrimSpace(c.Auth.Issuer) == "" {
		c.Auth.Issuer = "jobd"
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}
}

// createDefault creates and saves a default configuration file with a fresh
// random HMAC secret.
func createDefault(path string) (*Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./job-data",
		NetworkName:   "jobs-local",
		Environment:   "dev",
		LogLevel:      "info",
		Jobs: JobsConfig{
			LifetimeMin: jobs.DefaultLifetime.Min,
			LifetimeMax: jobs.DefaultLifetime.Max,
		},
		Auth: AuthConfig{
			HMACSecret: hex.EncodeToString(secret),
			Issuer:     "jobd",
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Index:     IndexConfig{Path: "./job-data/index.db"},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
