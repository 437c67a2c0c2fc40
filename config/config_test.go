package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"jobescrow/core/genesis"
	"jobescrow/crypto"
	"jobescrow/native/jobs"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, jobs.DefaultLifetime, cfg.Jobs.Lifetime())
	require.Len(t, cfg.Auth.HMACSecret, 64)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Auth.HMACSecret, again.Auth.HMACSecret, "default is persisted, not regenerated")
}

func TestLoadParsesSections(t *testing.T) {
	account := crypto.MustNewAddress(crypto.JobPrefix, bytes.Repeat([]byte{0x07}, 20)).String()
	path := writeConfig(t, strings.ReplaceAll(`ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/jobd"
Environment = "staging"
LogFile = "/var/log/jobd.log"

[jobs]
lifetime_min = 100
lifetime_max = 200

[auth]
hmac_secret = "`+testSecret+`"
audience = "jobs-clients"

[rate_limit]
requests_per_second = 5.5

[telemetry]
endpoint = "collector:4318"
traces = true
sample_ratio = 0.25

[index]
path = "/var/lib/jobd/index.db"

[[genesis.tokens]]
symbol = "USDC"
name = "USD Coin"
decimals = 6

[[genesis.balances]]
account = "ACCOUNT"
token = "USDC"
amount = "5000"
`, "ACCOUNT", account))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, jobs.Lifetime{Min: 100, Max: 200}, cfg.Jobs.Lifetime())
	require.Equal(t, "jobd", cfg.Auth.Issuer)
	require.Equal(t, "jobs-clients", cfg.Auth.Audience)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.True(t, cfg.Telemetry.Traces)
	require.Equal(t, "/var/lib/jobd/index.db", cfg.Index.Path)
	require.Len(t, cfg.Genesis.Tokens, 1)
	require.Len(t, cfg.Genesis.Balances, 1)
	require.Equal(t, "5000", cfg.Genesis.Balances[0].Amount)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `ListenAddress = ":1"
Bootnodes = ["x"]
[auth]
hmac_secret = "`+testSecret+`"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown key")
}

func TestSecretFromEnvironment(t *testing.T) {
	path := writeConfig(t, `ListenAddress = ":1"
[auth]
hmac_secret = "short"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "hmac_secret")

	t.Setenv(SecretEnv, testSecret)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, testSecret, cfg.Auth.HMACSecret)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Auth: AuthConfig{HMACSecret: testSecret}}
		cfg.applyDefaults()
		return cfg
	}
	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Jobs = JobsConfig{LifetimeMin: 10, LifetimeMax: 5}
	require.ErrorContains(t, cfg.Validate(), "jobs")

	cfg = valid()
	cfg.RateLimit.RequestsPerSecond = -1
	require.ErrorContains(t, cfg.Validate(), "rate_limit")

	cfg = valid()
	cfg.Telemetry.SampleRatio = 2
	require.ErrorContains(t, cfg.Validate(), "sample_ratio")

	cfg = valid()
	cfg.Genesis.Balances = append(cfg.Genesis.Balances, genesisBalance("job1bad", "USDC", "1"))
	require.Error(t, cfg.Validate())
}

func genesisBalance(account, token, amount string) genesis.BalanceSpec {
	return genesis.BalanceSpec{Account: account, Token: token, Amount: amount}
}
