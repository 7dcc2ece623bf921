package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "strategy-coordinator", cfg.App.Name)
	assert.Equal(t, int64(4), cfg.Venue.Concurrency)
	assert.Equal(t, 3, cfg.Venue.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Venue.RetryDelay)
	assert.Equal(t, uint64(1000), cfg.Chain.BatchSize)
	assert.Equal(t, uint32(100), cfg.Venue.CloseFloorBps)
	assert.Equal(t, uint64(196_000_000), cfg.Monitor.SimulationNetAmount)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, 15*time.Minute, cfg.Alerting.Cooldown)
	assert.False(t, cfg.Alerting.Telegram.Enabled)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "config.yaml", `
chain:
  rpc_url: http://localhost:8545
  vault_address: "0x0000000000000000000000000000000000000001"
  batch_size: 250
venue:
  retry_delay: 500ms
monitor:
  maturity_interval: 90s
strategies:
  path: ./strategies.yaml
`)
	t.Setenv("COORDINATOR_VENUE_CONCURRENCY", "8")
	t.Setenv("COORDINATOR_CHAIN_PRIVATE_KEY", "0xabc")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
	assert.Equal(t, uint64(250), cfg.Chain.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Venue.RetryDelay)
	assert.Equal(t, 90*time.Second, cfg.Monitor.MaturityInterval)
	assert.Equal(t, int64(8), cfg.Venue.Concurrency)
	assert.Equal(t, "0xabc", cfg.Chain.PrivateKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "COORDINATOR_VENUE_API_KEY=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("COORDINATOR_VENUE_API_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Venue.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Venue.Concurrency = 0
	assert.ErrorContains(t, bad.Validate(), "venue.concurrency")

	bad = *cfg
	bad.Venue.CloseFloorBps = 10_000
	assert.ErrorContains(t, bad.Validate(), "close_floor_bps")

	bad = *cfg
	bad.Strategies.Path = " "
	assert.ErrorContains(t, bad.Validate(), "strategies.path")

	bad = *cfg
	bad.Alerting.Telegram.Enabled = true
	assert.ErrorContains(t, bad.Validate(), "alerting.telegram")
}

func TestValidateLive(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.ValidateLive()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain.rpc_url")
	assert.Contains(t, err.Error(), "venue.signer_key")

	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.VaultAddress = "0x0000000000000000000000000000000000000001"
	cfg.Chain.PrivateKey = "0xabc"
	cfg.Venue.DryRun = true
	assert.NoError(t, cfg.ValidateLive())
}
