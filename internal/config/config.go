// Package config loads the trading policy from YAML into an immutable value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"coinbase-trader/internal/domain"
)

// Config is the whole policy. It is built once at startup and passed by
// value; nothing re-reads it mid-cycle.
type Config struct {
	Account    string                 `yaml:"account"`
	Mode       domain.Mode            `yaml:"mode"`
	LogLevel   string                 `yaml:"log_level"`
	Loop       Loop                   `yaml:"loop"`
	Exchange   Exchange               `yaml:"exchange"`
	Risk       Risk                   `yaml:"risk"`
	Regimes    map[string]Regime      `yaml:"regimes"`
	Execution  Execution              `yaml:"execution"`
	Fees       Fees                   `yaml:"fees"`
	Cooldown   Cooldown               `yaml:"cooldown"`
	KillSwitch KillSwitch             `yaml:"kill_switch"`
	Alert      Alert                  `yaml:"alert"`
	Storage    Storage                `yaml:"storage"`
	Proposals  Proposals              `yaml:"proposals"`
	Paper      Paper                  `yaml:"paper"`
	Themes     map[string]string      `yaml:"themes"` // symbol -> theme
	Tiers      map[string]domain.Tier `yaml:"tiers"`  // symbol -> tier
	Symbols    []string               `yaml:"symbols"`
}

// Loop controls the trading cycle.
type Loop struct {
	Interval time.Duration `yaml:"interval"`
	LockFile string        `yaml:"lock_file"`
}

// Exchange configures the Coinbase connector.
type Exchange struct {
	BaseURL  string        `yaml:"base_url"`
	WSURL    string        `yaml:"ws_url"`
	ReadOnly bool          `yaml:"read_only"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    Retry         `yaml:"retry"`
}

// Retry configures exchange.RetryPolicy.
type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor"`
}

// StrategyBudget caps one strategy's share of the book.
type StrategyBudget struct {
	MaxExposurePct       float64 `yaml:"max_exposure_pct"`
	MaxProposalsPerCycle int     `yaml:"max_proposals_per_cycle"`
}

// Risk holds admission thresholds. Percentages are fractions of NAV.
type Risk struct {
	DailyMaxLossPct  float64 `yaml:"daily_max_loss_pct"`
	WeeklyMaxLossPct float64 `yaml:"weekly_max_loss_pct"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`

	MaxQuoteAge         time.Duration `yaml:"max_quote_age"`
	MaxSymbolVolatility float64       `yaml:"max_symbol_volatility"`
	VolatilityHalt      float64       `yaml:"volatility_halt"`
	ReferenceSymbol     string        `yaml:"reference_symbol"`

	OutlierMovePct        float64 `yaml:"outlier_move_pct"`
	OutlierMinVolumeRatio float64 `yaml:"outlier_min_volume_ratio"`

	MaxPositionPct      float64            `yaml:"max_position_pct"`
	MaxThemePct         float64            `yaml:"max_theme_pct"`
	ThemeCaps           map[string]float64 `yaml:"theme_caps"`
	MaxTotalExposurePct float64            `yaml:"max_total_exposure_pct"`
	MinNotional         float64            `yaml:"min_notional"` // quote currency

	MaxOpenPositions          int  `yaml:"max_open_positions"`
	MaxTradesPerHour          int  `yaml:"max_trades_per_hour"`
	MaxTradesPerDay           int  `yaml:"max_trades_per_day"`
	ExemptAddsFromPositionCap bool `yaml:"exempt_adds_from_position_cap"`

	MinConviction float64 `yaml:"min_conviction"`

	DefaultStrategyBudget StrategyBudget            `yaml:"default_strategy_budget"`
	StrategyBudgets       map[string]StrategyBudget `yaml:"strategy_budgets"`
}

// Regime is a multiplier set selected by the opaque regime key.
type Regime struct {
	CapMultiplier  float64  `yaml:"cap_multiplier"`
	SizeMultiplier float64  `yaml:"size_multiplier"`
	MinConviction  *float64 `yaml:"min_conviction"`
}

// DefaultRegime is used for unknown or empty regime keys.
var DefaultRegime = Regime{CapMultiplier: 1, SizeMultiplier: 1}

// Execution configures the order submission pipeline.
type Execution struct {
	OrderType       domain.OrderType `yaml:"order_type"`
	MakerOffsetBps  float64          `yaml:"maker_offset_bps"`
	MakerTTL        time.Duration    `yaml:"maker_ttl"`
	PollInterval    time.Duration    `yaml:"poll_interval"`
	TakerFallback   bool             `yaml:"taker_fallback"`
	MinFillFraction float64          `yaml:"min_fill_fraction"`

	MinNotional   float64       `yaml:"min_notional"`
	MaxQuoteAge   time.Duration `yaml:"max_quote_age"`
	MaxClockSkew  time.Duration `yaml:"max_clock_skew"`
	MaxSpreadBps  float64       `yaml:"max_spread_bps"`
	DepthMultiple float64       `yaml:"depth_multiple"`
	DepthBandBps  float64       `yaml:"depth_band_bps"`

	SlippageBudgetBps map[domain.Tier]float64 `yaml:"slippage_budget_bps"`
}

// Fees is the maker/taker schedule shared by preview and reconciliation.
type Fees struct {
	MakerBps float64 `yaml:"maker_bps"`
	TakerBps float64 `yaml:"taker_bps"`
}

// Cooldown durations by outcome plus global pacing.
type Cooldown struct {
	AfterWin      time.Duration `yaml:"after_win"`
	AfterLoss     time.Duration `yaml:"after_loss"`
	AfterStopLoss time.Duration `yaml:"after_stop_loss"`

	MinReentryInterval time.Duration `yaml:"min_reentry_interval"`
	GlobalMinInterval  time.Duration `yaml:"global_min_interval"`

	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
	LossStreakPause      time.Duration `yaml:"loss_streak_pause"`
}

// KillSwitch configures the halt signal and the cancel sweep.
type KillSwitch struct {
	File         string        `yaml:"file"`
	SweepTimeout time.Duration `yaml:"sweep_timeout"`
}

// Alert configures the alert dispatcher.
type Alert struct {
	DedupWindow    time.Duration `yaml:"dedup_window"`
	EscalateAfter  time.Duration `yaml:"escalate_after"`
	FailureStreak  int           `yaml:"failure_streak"`
	DiscordEnabled bool          `yaml:"discord_enabled"`
}

// Storage selects the snapshot/order/audit backends.
type Storage struct {
	Backend  string `yaml:"backend"` // memory, file, postgres
	StateDir string `yaml:"state_dir"`
	Audit    string `yaml:"audit"` // none, memory, clickhouse
}

// Paper configures the simulated account used in PAPER mode.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash"`
}

// Proposals configures the proposal batch source.
type Proposals struct {
	Path   string        `yaml:"path"`
	MaxAge time.Duration `yaml:"max_age"` // older batches are dropped
}

// Load reads a YAML policy file, applies defaults and validates it.
func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the baseline policy that YAML overrides.
func Default() Config {
	return Config{
		Account:  "default",
		Mode:     domain.ModeDryRun,
		LogLevel: "info",
		Loop: Loop{
			Interval: time.Minute,
			LockFile: "state/bot.lock",
		},
		Exchange: Exchange{
			BaseURL:  "https://api.coinbase.com",
			WSURL:    "wss://advanced-trade-ws.coinbase.com",
			ReadOnly: true,
			Timeout:  10 * time.Second,
			Retry: Retry{
				MaxAttempts:  4,
				BaseDelay:    250 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				JitterFactor: 0.5,
			},
		},
		Risk: Risk{
			DailyMaxLossPct:       0.03,
			WeeklyMaxLossPct:      0.07,
			MaxDrawdownPct:        0.15,
			MaxQuoteAge:           30 * time.Second,
			MaxSymbolVolatility:   0.15,
			VolatilityHalt:        0.10,
			ReferenceSymbol:       "BTC-USD",
			OutlierMovePct:        0.20,
			OutlierMinVolumeRatio: 2.0,
			MaxPositionPct:        0.05,
			MaxThemePct:           0.15,
			MaxTotalExposurePct:   0.50,
			MinNotional:           15,
			MaxOpenPositions:      8,
			MaxTradesPerHour:      6,
			MaxTradesPerDay:       20,
			MinConviction:         0.5,
			DefaultStrategyBudget: StrategyBudget{MaxExposurePct: 0.25, MaxProposalsPerCycle: 3},
		},
		Execution: Execution{
			OrderType:       domain.OrderTypePostOnlyLimit,
			MakerOffsetBps:  2,
			MakerTTL:        30 * time.Second,
			PollInterval:    2 * time.Second,
			MinFillFraction: 0.25,
			MinNotional:     15,
			MaxQuoteAge:     30 * time.Second,
			MaxClockSkew:    2 * time.Second,
			MaxSpreadBps:    50,
			DepthMultiple:   2,
			DepthBandBps:    50,
			SlippageBudgetBps: map[domain.Tier]float64{
				domain.Tier1: 10,
				domain.Tier2: 25,
				domain.Tier3: 50,
			},
		},
		Fees: Fees{MakerBps: 40, TakerBps: 60},
		Cooldown: Cooldown{
			AfterWin:      15 * time.Minute,
			AfterLoss:     60 * time.Minute,
			AfterStopLoss: 120 * time.Minute,
		},
		KillSwitch: KillSwitch{
			File:         "state/KILL",
			SweepTimeout: 3 * time.Second,
		},
		Alert: Alert{
			DedupWindow:   5 * time.Minute,
			EscalateAfter: 30 * time.Minute,
			FailureStreak: 3,
		},
		Storage: Storage{
			Backend:  "file",
			StateDir: "state",
			Audit:    "memory",
		},
		Proposals: Proposals{Path: "state/proposals.json", MaxAge: 5 * time.Minute},
		Paper:     Paper{StartingCash: 10000},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Account) == "" {
		add("account is required")
	}
	if _, err := domain.ParseMode(string(c.Mode)); err != nil {
		add("mode: %v", err)
	}
	if c.Mode == domain.ModeLive && c.Exchange.ReadOnly {
		add("mode LIVE requires exchange.read_only=false")
	}
	if c.Mode == domain.ModePaper && c.Paper.StartingCash <= 0 {
		add("mode PAPER requires a positive paper.starting_cash")
	}
	if c.Loop.Interval <= 0 {
		add("loop.interval must be positive")
	}
	if c.Exchange.Timeout <= 0 {
		add("exchange.timeout must be positive")
	}
	if c.Exchange.Retry.MaxAttempts < 1 {
		add("exchange.retry.max_attempts must be >= 1")
	}
	if c.Exchange.Retry.JitterFactor < 0 || c.Exchange.Retry.JitterFactor > 1 {
		add("exchange.retry.jitter_factor must be in [0,1]")
	}

	r := c.Risk
	for name, v := range map[string]float64{
		"risk.daily_max_loss_pct":     r.DailyMaxLossPct,
		"risk.weekly_max_loss_pct":    r.WeeklyMaxLossPct,
		"risk.max_drawdown_pct":       r.MaxDrawdownPct,
		"risk.max_position_pct":       r.MaxPositionPct,
		"risk.max_theme_pct":          r.MaxThemePct,
		"risk.max_total_exposure_pct": r.MaxTotalExposurePct,
	} {
		if v <= 0 || v > 1 {
			add("%s must be in (0,1], got %v", name, v)
		}
	}
	for theme, v := range r.ThemeCaps {
		if v <= 0 || v > 1 {
			add("risk.theme_caps[%s] must be in (0,1], got %v", theme, v)
		}
	}
	if r.MaxPositionPct > r.MaxTotalExposurePct {
		add("risk.max_position_pct exceeds risk.max_total_exposure_pct")
	}
	if r.MinConviction < 0 || r.MinConviction > 1 {
		add("risk.min_conviction must be in [0,1]")
	}
	if r.MinNotional <= 0 {
		add("risk.min_notional must be positive")
	}
	if r.MaxQuoteAge <= 0 {
		add("risk.max_quote_age must be positive")
	}
	if r.MaxOpenPositions < 1 {
		add("risk.max_open_positions must be >= 1")
	}
	if r.MaxTradesPerHour < 1 || r.MaxTradesPerDay < 1 {
		add("risk.max_trades_per_hour and risk.max_trades_per_day must be >= 1")
	}
	if r.DefaultStrategyBudget.MaxExposurePct <= 0 || r.DefaultStrategyBudget.MaxProposalsPerCycle < 1 {
		add("risk.default_strategy_budget must set max_exposure_pct and max_proposals_per_cycle")
	}
	for id, b := range r.StrategyBudgets {
		if b.MaxExposurePct <= 0 || b.MaxExposurePct > 1 || b.MaxProposalsPerCycle < 1 {
			add("risk.strategy_budgets[%s] is invalid", id)
		}
	}

	for key, reg := range c.Regimes {
		if reg.CapMultiplier <= 0 || reg.SizeMultiplier <= 0 {
			add("regimes[%s]: multipliers must be positive", key)
		}
		if reg.MinConviction != nil && (*reg.MinConviction < 0 || *reg.MinConviction > 1) {
			add("regimes[%s]: min_conviction must be in [0,1]", key)
		}
	}

	e := c.Execution
	switch e.OrderType {
	case domain.OrderTypePostOnlyLimit, domain.OrderTypeMarket:
	default:
		add("execution.order_type %q is not POST_ONLY_LIMIT or MARKET", e.OrderType)
	}
	if e.MakerOffsetBps < 0 {
		add("execution.maker_offset_bps must be >= 0")
	}
	if e.MakerTTL <= 0 || e.PollInterval <= 0 {
		add("execution.maker_ttl and execution.poll_interval must be positive")
	}
	if e.MinFillFraction < 0 || e.MinFillFraction > 1 {
		add("execution.min_fill_fraction must be in [0,1]")
	}
	if e.MinNotional <= 0 {
		add("execution.min_notional must be positive")
	}
	if e.MaxQuoteAge <= 0 || e.MaxClockSkew < 0 {
		add("execution.max_quote_age must be positive and max_clock_skew >= 0")
	}
	if e.MaxSpreadBps <= 0 || e.DepthMultiple <= 0 || e.DepthBandBps <= 0 {
		add("execution spread/depth thresholds must be positive")
	}
	for _, tier := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
		if e.SlippageBudgetBps[tier] <= 0 {
			add("execution.slippage_budget_bps[%s] must be positive", tier)
		}
	}

	if c.Fees.MakerBps < 0 || c.Fees.TakerBps < 0 {
		add("fees must be non-negative")
	}

	cd := c.Cooldown
	if cd.AfterWin < 0 || cd.AfterLoss < 0 || cd.AfterStopLoss < 0 {
		add("cooldown durations must be non-negative")
	}
	if cd.AfterWin > cd.AfterLoss || cd.AfterLoss > cd.AfterStopLoss {
		add("cooldown must satisfy after_win <= after_loss <= after_stop_loss")
	}
	if cd.MaxConsecutiveLosses > 0 && cd.LossStreakPause <= 0 {
		add("cooldown.loss_streak_pause must be positive when max_consecutive_losses is set")
	}

	if c.KillSwitch.SweepTimeout <= 0 {
		add("kill_switch.sweep_timeout must be positive")
	}

	switch c.Storage.Backend {
	case "memory", "file", "postgres":
	default:
		add("storage.backend %q is not memory, file or postgres", c.Storage.Backend)
	}
	switch c.Storage.Audit {
	case "none", "memory", "clickhouse":
	default:
		add("storage.audit %q is not none, memory or clickhouse", c.Storage.Audit)
	}
	if c.Storage.Backend == "file" && c.Storage.StateDir == "" {
		add("storage.state_dir is required for the file backend")
	}

	for sym, tier := range c.Tiers {
		switch tier {
		case domain.Tier1, domain.Tier2, domain.Tier3:
		default:
			add("tiers[%s]: unknown tier %q", sym, tier)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RegimeFor resolves a regime key; unknown keys get DefaultRegime.
func (c Config) RegimeFor(key string) Regime {
	reg, ok := c.Regimes[key]
	if !ok {
		return DefaultRegime
	}
	return reg
}

// ThemeOf returns the configured theme for symbol, or the symbol itself so
// that unthemed symbols form their own cluster.
func (c Config) ThemeOf(symbol string) string {
	if t, ok := c.Themes[symbol]; ok && t != "" {
		return t
	}
	return symbol
}

// ThemeCap returns the cap fraction for a theme.
func (c Config) ThemeCap(theme string) float64 {
	if v, ok := c.Risk.ThemeCaps[theme]; ok {
		return v
	}
	return c.Risk.MaxThemePct
}

// TierOf returns the configured tier, defaulting to the most conservative.
func (c Config) TierOf(symbol string) domain.Tier {
	if t, ok := c.Tiers[symbol]; ok {
		return t
	}
	return domain.Tier3
}

// SlippageBudgetBps returns the slippage budget for tier.
func (c Config) SlippageBudgetBps(tier domain.Tier) float64 {
	if v, ok := c.Execution.SlippageBudgetBps[tier]; ok {
		return v
	}
	return c.Execution.SlippageBudgetBps[domain.Tier3]
}

// StrategyBudget returns the budget for a strategy id.
func (c Config) StrategyBudget(strategyID string) StrategyBudget {
	if b, ok := c.Risk.StrategyBudgets[strategyID]; ok {
		return b
	}
	return c.Risk.DefaultStrategyBudget
}
