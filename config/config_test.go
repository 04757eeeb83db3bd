package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().ValidateBasic())
}

func TestEnsureRootWritesLoadableFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, EnsureRoot(home))

	for _, dir := range []string{DefaultConfigDir, DefaultDataDir} {
		info, err := os.Stat(filepath.Join(home, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	cfg, err := Load(home)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateBasic())

	want := DefaultConfig()
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, want.Chain.Kind, cfg.Chain.Kind)
	assert.Equal(t, want.Chain.PollInterval, cfg.Chain.PollInterval)
	assert.Equal(t, want.Feed.Interval, cfg.Feed.Interval)
	assert.Equal(t, want.Kafka.Brokers, cfg.Kafka.Brokers)
	assert.Equal(t, filepath.Join(home, "data", "journal"), cfg.JournalDir())
}

func TestEnsureRootKeepsExistingFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, EnsureRoot(home))

	cfg := DefaultConfig()
	cfg.GRPC.ListenAddr = "0.0.0.0:7000"
	require.NoError(t, WriteConfigFile(ConfigFile(home), cfg))
	require.NoError(t, EnsureRoot(home))

	got, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", got.GRPC.ListenAddr)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "pebble", cfg.Journal.Backend)
	assert.Equal(t, 10*time.Second, cfg.Feed.Interval)
}

func TestEnvironmentOverrides(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, EnsureRoot(home))

	t.Setenv("FEEMARKET_CHAIN_KIND", "ledger")
	t.Setenv("FEEMARKET_CHAIN_PASSWORD", "hunter2")
	t.Setenv("FEEMARKET_FEED_INTERVAL", "3s")
	t.Setenv("FEEMARKET_JOURNAL_BACKEND", "sqlite")

	cfg, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, "ledger", cfg.Chain.Kind)
	assert.Equal(t, "hunter2", cfg.Chain.Password)
	assert.Equal(t, 3*time.Second, cfg.Feed.Interval)
	assert.Equal(t, "sqlite", cfg.Journal.Backend)
}

func TestPasswordNeverWritten(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, DefaultConfigDir), DefaultDirPerm))

	cfg := DefaultConfig()
	cfg.Chain.Password = "secret"
	require.NoError(t, WriteConfigFile(ConfigFile(home), cfg))

	raw, err := os.ReadFile(ConfigFile(home))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}

func TestValidateBasic(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown chain", func(c *Config) { c.Chain.Kind = "utxo" }},
		{"empty rpc", func(c *Config) { c.Chain.RPC = "" }},
		{"bad registry", func(c *Config) { c.Chain.Registry = "0x12" }},
		{"bad min fee", func(c *Config) { c.Chain.MinFee = "-1" }},
		{"bad account", func(c *Config) { c.Chain.Account = "alice" }},
		{"decimals", func(c *Config) { c.Chain.Decimals = 40 }},
		{"journal backend", func(c *Config) { c.Journal.Backend = "bolt" }},
		{"journal dir", func(c *Config) { c.Journal.Dir = "" }},
		{"kafka brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
		{"feed cache", func(c *Config) { c.Feed.CacheSize = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "trace" }},
		{"prometheus addr", func(c *Config) {
			c.Instrumentation.Prometheus = true
			c.Instrumentation.ListenAddr = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.ValidateBasic())
		})
	}
}

func TestLedgerSkipsRegistryChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chain.Kind = "ledger"
	cfg.Chain.Registry = ""
	cfg.Chain.MinFee = "junk"
	assert.NoError(t, cfg.ValidateBasic())
}
