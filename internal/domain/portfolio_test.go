package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func themeFor(m map[string]string) func(string) string {
	return func(s string) string { return m[s] }
}

func TestPortfolioState_Exposure(t *testing.T) {
	now := time.Date(2024, 3, 6, 10, 30, 0, 0, time.UTC)
	s := NewPortfolioState(10000, now)
	s.Positions["BTC-USD"] = Position{Symbol: "BTC-USD", Size: 0.01, AvgEntryPrice: 40000, MarkPrice: 50000}
	s.Positions["ETH-USD"] = Position{Symbol: "ETH-USD", Size: 0.1, AvgEntryPrice: 2000, Theme: "majors"}
	s.PendingOrders = []PendingOrder{
		{OrderID: "o1", Symbol: "BTC-USD", Side: SideBuy, WorstCaseNotional: 100},
		{OrderID: "o2", Symbol: "BTC-USD", Side: SideSell, WorstCaseNotional: 300},
		{OrderID: "o3", Symbol: "SOL-USD", Side: SideBuy, WorstCaseNotional: 50},
	}
	themes := themeFor(map[string]string{"BTC-USD": "majors", "SOL-USD": "alt-l1"})

	assert.InDelta(t, 600.0, s.SymbolExposure("BTC-USD"), 1e-9)
	assert.InDelta(t, 200.0, s.SymbolExposure("ETH-USD"), 1e-9)
	assert.InDelta(t, 50.0, s.SymbolExposure("SOL-USD"), 1e-9)
	assert.InDelta(t, 800.0, s.ThemeExposure("majors", themes), 1e-9)
	assert.InDelta(t, 50.0, s.ThemeExposure("alt-l1", themes), 1e-9)
	assert.InDelta(t, 850.0, s.TotalExposure(), 1e-9)
	assert.Equal(t, 3, s.OpenPositionCount())
	assert.True(t, s.HasLong("BTC-USD"))
	assert.False(t, s.HasLong("SOL-USD"))
}

func TestPortfolioState_StrategyExposureCountsPendingBuys(t *testing.T) {
	now := time.Date(2024, 3, 6, 10, 30, 0, 0, time.UTC)
	s := NewPortfolioState(10000, now)
	s.Positions["BTC-USD"] = Position{Symbol: "BTC-USD", Size: 0.01, MarkPrice: 50000, StrategyID: "momentum"}
	s.Positions["ETH-USD"] = Position{Symbol: "ETH-USD", Size: 0.1, MarkPrice: 2000, StrategyID: "meanrev"}
	s.PendingOrders = []PendingOrder{
		{OrderID: "o1", Symbol: "SOL-USD", Side: SideBuy, StrategyID: "momentum", WorstCaseNotional: 300},
		{OrderID: "o2", Symbol: "BTC-USD", Side: SideSell, StrategyID: "momentum", WorstCaseNotional: 500},
		{OrderID: "o3", Symbol: "ETH-USD", Side: SideBuy, WorstCaseNotional: 70},
	}

	assert.InDelta(t, 800.0, s.StrategyExposure("momentum"), 1e-9)
	assert.InDelta(t, 200.0, s.StrategyExposure("meanrev"), 1e-9)
	assert.InDelta(t, 70.0, s.StrategyExposure(""), 1e-9)
}

func TestPortfolioState_DrawdownAndPnL(t *testing.T) {
	now := time.Date(2024, 3, 6, 10, 30, 0, 0, time.UTC)
	s := NewPortfolioState(10000, now)
	s.HighWaterMark = 12000
	s.AccountValue = 9000
	s.RealizedPnLToday = -300
	s.RealizedPnLWeek = -800

	assert.InDelta(t, 0.25, s.Drawdown(), 1e-9)
	assert.InDelta(t, -0.03, s.DailyPnLPct(), 1e-9)
	assert.InDelta(t, -0.08, s.WeeklyPnLPct(), 1e-9)

	s.AccountValue = 13000
	s.MarkHighWater()
	assert.Equal(t, 13000.0, s.HighWaterMark)
	assert.Equal(t, 0.0, s.Drawdown())
}

func TestPortfolioState_Roll(t *testing.T) {
	// Wednesday
	start := time.Date(2024, 3, 6, 10, 30, 0, 0, time.UTC)
	s := NewPortfolioState(10000, start)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), s.WeekStart)

	s.TradesThisHour = 3
	s.TradesToday = 5
	s.RealizedPnLToday = 40
	s.RealizedPnLWeek = 90

	s.Roll(start.Add(10 * time.Minute))
	assert.Equal(t, 3, s.TradesThisHour)

	s.Roll(start.Add(time.Hour))
	assert.Equal(t, 0, s.TradesThisHour)
	assert.Equal(t, 5, s.TradesToday)

	s.AccountValue = 10100
	s.Roll(start.Add(24 * time.Hour))
	assert.Equal(t, 0, s.TradesToday)
	assert.Equal(t, 0.0, s.RealizedPnLToday)
	assert.Equal(t, 90.0, s.RealizedPnLWeek)
	assert.Equal(t, 10100.0, s.DayStartValue)

	// Following Monday
	s.Roll(time.Date(2024, 3, 11, 0, 5, 0, 0, time.UTC))
	assert.Equal(t, 0.0, s.RealizedPnLWeek)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), s.WeekStart)
}

func TestPortfolioState_CloneIsDeep(t *testing.T) {
	s := NewPortfolioState(1000, time.Now())
	s.Positions["BTC-USD"] = Position{Size: 1}
	s.ProcessedFills["f1"] = time.Now()

	c := s.Clone()
	c.Positions["BTC-USD"] = Position{Size: 2}
	c.ProcessedFills["f2"] = time.Now()
	c.TradedOrders["o1"] = time.Now()
	c.Exits["o1"] = ExitProgress{Symbol: "BTC-USD", PnL: -3}

	assert.Equal(t, 1.0, s.Positions["BTC-USD"].Size)
	assert.Len(t, s.ProcessedFills, 1)
	assert.Empty(t, s.TradedOrders)
	assert.Empty(t, s.Exits)
}

func TestCooldownState_Active(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldownState()
	c.Cooldowns["BTC-USD"] = SymbolCooldown{SetAt: t0, Until: t0.Add(time.Hour), Outcome: OutcomeLoss}

	_, active := c.Active("BTC-USD", t0.Add(59*time.Minute))
	assert.True(t, active)
	_, active = c.Active("BTC-USD", t0.Add(time.Hour))
	assert.False(t, active)
	_, active = c.Active("ETH-USD", t0)
	assert.False(t, active)
}
