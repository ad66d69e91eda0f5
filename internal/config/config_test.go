package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbase-trader/internal/domain"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "policy.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.Account)
	assert.Equal(t, domain.ModePaper, cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Loop.Interval)
	assert.Equal(t, 5*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, 0.02, cfg.Risk.DailyMaxLossPct)
	assert.Equal(t, 45*time.Second, cfg.Execution.MakerTTL)
	assert.Equal(t, 2*time.Hour, cfg.Cooldown.AfterStopLoss)

	// Untouched fields keep their defaults.
	assert.Equal(t, 0.07, cfg.Risk.WeeklyMaxLossPct)
	assert.Equal(t, 3*time.Second, cfg.KillSwitch.SweepTimeout)

	// Maps merge into the defaults.
	assert.Equal(t, 8.0, cfg.SlippageBudgetBps(domain.Tier1))
	assert.Equal(t, 25.0, cfg.SlippageBudgetBps(domain.Tier2))
}

func TestLoad_UnknownFieldFails(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "unknown_field.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_positon_pct")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "live with read-only connector",
			mutate:  func(c *Config) { c.Mode = domain.ModeLive },
			wantErr: "read_only=false",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "YOLO" },
			wantErr: "unknown mode",
		},
		{
			name:    "position cap above total cap",
			mutate:  func(c *Config) { c.Risk.MaxPositionPct = 0.6 },
			wantErr: "exceeds risk.max_total_exposure_pct",
		},
		{
			name:    "cooldown ordering",
			mutate:  func(c *Config) { c.Cooldown.AfterWin = 3 * time.Hour },
			wantErr: "after_win <= after_loss",
		},
		{
			name:    "bad regime",
			mutate:  func(c *Config) { c.Regimes = map[string]Regime{"x": {CapMultiplier: 0, SizeMultiplier: 1}} },
			wantErr: "regimes[x]",
		},
		{
			name:    "bad order type",
			mutate:  func(c *Config) { c.Execution.OrderType = "IOC" },
			wantErr: "execution.order_type",
		},
		{
			name:    "missing slippage tier",
			mutate:  func(c *Config) { delete(c.Execution.SlippageBudgetBps, domain.Tier2) },
			wantErr: "slippage_budget_bps[tier2]",
		},
		{
			name:    "bad storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "redis" },
			wantErr: "storage.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Account = ""
	cfg.Fees.MakerBps = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account is required")
	assert.Contains(t, err.Error(), "fees must be non-negative")
}

func TestRegimeFor(t *testing.T) {
	floor := 0.8
	cfg := Default()
	cfg.Regimes = map[string]Regime{"risk_off": {CapMultiplier: 0.5, SizeMultiplier: 0.5, MinConviction: &floor}}

	assert.Equal(t, 0.5, cfg.RegimeFor("risk_off").CapMultiplier)
	assert.Equal(t, DefaultRegime, cfg.RegimeFor("unknown"))
	assert.Equal(t, DefaultRegime, cfg.RegimeFor(""))
}

func TestThemeAndTierLookup(t *testing.T) {
	cfg := Default()
	cfg.Themes = map[string]string{"DOGE-USD": "memes"}
	cfg.Tiers = map[string]domain.Tier{"BTC-USD": domain.Tier1}
	cfg.Risk.ThemeCaps = map[string]float64{"memes": 0.04}

	assert.Equal(t, "memes", cfg.ThemeOf("DOGE-USD"))
	assert.Equal(t, "SOL-USD", cfg.ThemeOf("SOL-USD"))
	assert.Equal(t, 0.04, cfg.ThemeCap("memes"))
	assert.Equal(t, cfg.Risk.MaxThemePct, cfg.ThemeCap("majors"))
	assert.Equal(t, domain.Tier1, cfg.TierOf("BTC-USD"))
	assert.Equal(t, domain.Tier3, cfg.TierOf("PEPE-USD"))
}

func TestSecretsCheck(t *testing.T) {
	cfg := Default()
	require.NoError(t, Secrets{}.Check(cfg))

	cfg.Storage.Backend = "postgres"
	cfg.Storage.Audit = "clickhouse"
	cfg.Exchange.ReadOnly = false
	err := Secrets{}.Check(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPostgresDSN)
	assert.Contains(t, err.Error(), EnvClickHouseDSN)
	assert.Contains(t, err.Error(), EnvAPIKeyName)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CONFIG_TEST_VALUE=from-file\n"), 0o600))

	t.Setenv("CONFIG_TEST_VALUE", "")
	os.Unsetenv("CONFIG_TEST_VALUE")

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("CONFIG_TEST_VALUE"))
}
