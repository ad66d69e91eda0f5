package domain

import (
	"math"
	"time"
)

// Position is a filled long in one symbol.
type Position struct {
	Symbol        string    `json:"symbol"`
	Size          float64   `json:"size"` // base units
	AvgEntryPrice float64   `json:"avg_entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	EntryFees     float64   `json:"entry_fees"` // unallocated entry fees, quote currency
	RealizedPnL   float64   `json:"realized_pnl"`
	StrategyID    string    `json:"strategy_id"`
	Theme         string    `json:"theme"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Notional marks the position at MarkPrice, falling back to the entry price.
func (p Position) Notional() float64 {
	price := p.MarkPrice
	if price <= 0 {
		price = p.AvgEntryPrice
	}
	return math.Abs(p.Size * price)
}

// PendingOrder is an acknowledged order that has not fully filled.
type PendingOrder struct {
	OrderID           string    `json:"order_id"`
	ClientOrderID     string    `json:"client_order_id"`
	Symbol            string    `json:"symbol"`
	Side              Side      `json:"side"`
	StrategyID        string    `json:"strategy_id,omitempty"`
	WorstCaseNotional float64   `json:"worst_case_notional"`
	CreatedAt         time.Time `json:"created_at"`
}

// ExitProgress is the realized PnL a SELL order has booked so far, summed
// across reconcile runs until its position closes.
type ExitProgress struct {
	Symbol   string    `json:"symbol"`
	PnL      float64   `json:"pnl"`
	LastFill time.Time `json:"last_fill"`
}

// PortfolioState is the account snapshot read by admission and written by
// reconciliation.
type PortfolioState struct {
	AccountValue  float64             `json:"account_value"` // NAV
	Cash          float64             `json:"cash"`
	Positions     map[string]Position `json:"positions"`
	PendingOrders []PendingOrder      `json:"pending_orders"`

	RealizedPnLToday float64   `json:"realized_pnl_today"`
	RealizedPnLWeek  float64   `json:"realized_pnl_week"`
	DayStartValue    float64   `json:"day_start_value"`
	WeekStartValue   float64   `json:"week_start_value"`
	DayStart         time.Time `json:"day_start"`
	WeekStart        time.Time `json:"week_start"`
	HourStart        time.Time `json:"hour_start"`
	TradesToday      int       `json:"trades_today"`
	TradesThisHour   int       `json:"trades_this_hour"`
	HighWaterMark    float64   `json:"high_water_mark"`

	// ProcessedFills maps fill id to fill time so reprocessing is a no-op.
	ProcessedFills map[string]time.Time `json:"processed_fills"`

	// TradedOrders maps order id to its first fill time. An order counts
	// once toward the trade limits however many runs see its fills.
	TradedOrders map[string]time.Time `json:"traded_orders"`

	// Exits holds SELL orders whose position has not closed yet, by order id.
	Exits map[string]ExitProgress `json:"exits"`

	// BlockedSymbols holds symbols with an ambiguous order awaiting
	// reconciliation, keyed to the idempotency key of that order.
	BlockedSymbols map[string]string `json:"blocked_symbols"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewPortfolioState returns an empty state with the given NAV.
func NewPortfolioState(accountValue float64, now time.Time) PortfolioState {
	s := PortfolioState{
		AccountValue:   accountValue,
		Cash:           accountValue,
		Positions:      make(map[string]Position),
		ProcessedFills: make(map[string]time.Time),
		TradedOrders:   make(map[string]time.Time),
		Exits:          make(map[string]ExitProgress),
		BlockedSymbols: make(map[string]string),
		HighWaterMark:  accountValue,
		UpdatedAt:      now,
	}
	s.Roll(now)
	return s
}

// Clone returns a deep copy.
func (s PortfolioState) Clone() PortfolioState {
	out := s
	out.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	out.PendingOrders = append([]PendingOrder(nil), s.PendingOrders...)
	out.ProcessedFills = make(map[string]time.Time, len(s.ProcessedFills))
	for k, v := range s.ProcessedFills {
		out.ProcessedFills[k] = v
	}
	out.TradedOrders = make(map[string]time.Time, len(s.TradedOrders))
	for k, v := range s.TradedOrders {
		out.TradedOrders[k] = v
	}
	out.Exits = make(map[string]ExitProgress, len(s.Exits))
	for k, v := range s.Exits {
		out.Exits[k] = v
	}
	out.BlockedSymbols = make(map[string]string, len(s.BlockedSymbols))
	for k, v := range s.BlockedSymbols {
		out.BlockedSymbols[k] = v
	}
	return out
}

// HasLong reports whether a positive position exists for symbol.
func (s PortfolioState) HasLong(symbol string) bool {
	p, ok := s.Positions[symbol]
	return ok && p.Size > 0
}

// PendingBuyNotional is the worst-case notional of open BUY orders for symbol.
// SELL orders can only reduce exposure and are not counted.
func (s PortfolioState) PendingBuyNotional(symbol string) float64 {
	var total float64
	for _, o := range s.PendingOrders {
		if o.Symbol == symbol && o.Side == SideBuy {
			total += math.Abs(o.WorstCaseNotional)
		}
	}
	return total
}

// SymbolExposure is filled plus pending at-risk notional for one symbol.
func (s PortfolioState) SymbolExposure(symbol string) float64 {
	var filled float64
	if p, ok := s.Positions[symbol]; ok {
		filled = p.Notional()
	}
	return filled + s.PendingBuyNotional(symbol)
}

// ThemeExposure is filled plus pending at-risk notional for every symbol whose
// theme (resolved by themeOf) equals theme.
func (s PortfolioState) ThemeExposure(theme string, themeOf func(symbol string) string) float64 {
	var total float64
	for sym, p := range s.Positions {
		t := p.Theme
		if t == "" {
			t = themeOf(sym)
		}
		if t == theme {
			total += p.Notional()
		}
	}
	for _, o := range s.PendingOrders {
		if o.Side == SideBuy && themeOf(o.Symbol) == theme {
			total += math.Abs(o.WorstCaseNotional)
		}
	}
	return total
}

// TotalExposure is filled plus pending at-risk notional across the account.
func (s PortfolioState) TotalExposure() float64 {
	var total float64
	for _, p := range s.Positions {
		total += p.Notional()
	}
	for _, o := range s.PendingOrders {
		if o.Side == SideBuy {
			total += math.Abs(o.WorstCaseNotional)
		}
	}
	return total
}

// StrategyExposure is filled plus pending at-risk notional attributed to a
// strategy.
func (s PortfolioState) StrategyExposure(strategyID string) float64 {
	var total float64
	for _, p := range s.Positions {
		if p.StrategyID == strategyID {
			total += p.Notional()
		}
	}
	for _, o := range s.PendingOrders {
		if o.Side == SideBuy && o.StrategyID == strategyID {
			total += math.Abs(o.WorstCaseNotional)
		}
	}
	return total
}

// OpenPositionCount counts symbols with a positive position or a pending BUY
// on a symbol without one.
func (s PortfolioState) OpenPositionCount() int {
	seen := make(map[string]struct{})
	for sym, p := range s.Positions {
		if p.Size > 0 {
			seen[sym] = struct{}{}
		}
	}
	for _, o := range s.PendingOrders {
		if o.Side == SideBuy {
			seen[o.Symbol] = struct{}{}
		}
	}
	return len(seen)
}

// Drawdown returns the fractional decline of NAV from the high-water mark.
func (s PortfolioState) Drawdown() float64 {
	if s.HighWaterMark <= 0 || s.AccountValue >= s.HighWaterMark {
		return 0
	}
	return (s.HighWaterMark - s.AccountValue) / s.HighWaterMark
}

// DailyPnLPct is today's realized PnL as a fraction of the day-start value.
func (s PortfolioState) DailyPnLPct() float64 {
	if s.DayStartValue <= 0 {
		return 0
	}
	return s.RealizedPnLToday / s.DayStartValue
}

// WeeklyPnLPct is this week's realized PnL as a fraction of the week-start value.
func (s PortfolioState) WeeklyPnLPct() float64 {
	if s.WeekStartValue <= 0 {
		return 0
	}
	return s.RealizedPnLWeek / s.WeekStartValue
}

// Roll resets hour/day/week counters whose period has ended. Periods are
// anchored in UTC; weeks start on Monday.
func (s *PortfolioState) Roll(now time.Time) {
	now = now.UTC()

	hour := now.Truncate(time.Hour)
	if !s.HourStart.Equal(hour) {
		s.HourStart = hour
		s.TradesThisHour = 0
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !s.DayStart.Equal(day) {
		s.DayStart = day
		s.DayStartValue = s.AccountValue
		s.RealizedPnLToday = 0
		s.TradesToday = 0
	}

	offset := (int(day.Weekday()) + 6) % 7
	week := day.AddDate(0, 0, -offset)
	if !s.WeekStart.Equal(week) {
		s.WeekStart = week
		s.WeekStartValue = s.AccountValue
		s.RealizedPnLWeek = 0
	}
}

// MarkHighWater raises the high-water mark to the current NAV.
func (s *PortfolioState) MarkHighWater() {
	if s.AccountValue > s.HighWaterMark {
		s.HighWaterMark = s.AccountValue
	}
}
