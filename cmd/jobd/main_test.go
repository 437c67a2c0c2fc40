package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobescrow/config"
	"jobescrow/core"
	"jobescrow/core/genesis"
	"jobescrow/crypto"
	"jobescrow/observability/logging"
	"jobescrow/storage"
	"jobescrow/storage/index"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	account := [20]byte{0x42}
	return &config.Config{
		ListenAddress: "127.0.0.1:0",
		DataDir:       t.TempDir(),
		NetworkName:   "jobs-test",
		Jobs:          config.JobsConfig{LifetimeMin: 10, LifetimeMax: 20},
		Auth:          config.AuthConfig{HMACSecret: "0123456789abcdef0123456789abcdef", Issuer: "jobd"},
		Index:         config.IndexConfig{Path: "index.db"},
		Genesis: genesis.Spec{
			Tokens:   []genesis.TokenSpec{{Symbol: "USDC", Name: "USD Coin", Decimals: 6}},
			Balances: []genesis.BalanceSpec{{Account: crypto.FromRaw(account).String(), Token: "USDC", Amount: "5000"}},
		},
	}
}

func TestRunAppliesGenesisOnce(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, run(ctx, cfg, logger))
	}

	db, err := storage.NewLevelDB(statePath(cfg))
	require.NoError(t, err)
	defer db.Close()
	node, err := core.NewNode(db)
	require.NoError(t, err)
	bal, err := node.Balance([20]byte{0x42}, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(5000), bal.Int64())

	idx, err := index.Open(indexPath(cfg))
	require.NoError(t, err)
	require.NoError(t, idx.Close())
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestRunRejectsBadLifetime(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs = config.JobsConfig{LifetimeMin: 50, LifetimeMax: 10}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, run(ctx, cfg, slog.Default()))
}

func TestIndexPathResolution(t *testing.T) {
	cfg := &config.Config{DataDir: "/var/lib/jobd"}
	require.Empty(t, indexPath(cfg))
	cfg.Index.Path = "jobs.db"
	require.Equal(t, filepath.Join("/var/lib/jobd", "jobs.db"), indexPath(cfg))
	cfg.Index.Path = "/tmp/jobs.db"
	require.Equal(t, "/tmp/jobs.db", indexPath(cfg))
}

func TestSecretsAreRedactedInLogs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	secret := "0123456789abcdef0123456789abcdef"
	logger.Info("loaded auth", logging.MaskField("hmac_secret", secret))

	require.NotContains(t, buf.String(), secret)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, logging.RedactedValue, entry["hmac_secret"])
	require.False(t, logging.IsAllowlisted("hmac_secret"))
}
