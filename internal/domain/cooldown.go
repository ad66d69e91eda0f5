package domain

import "time"

// Outcome classifies a closed trade for cooldown purposes.
type Outcome string

const (
	OutcomeWin      Outcome = "win"
	OutcomeLoss     Outcome = "loss"
	OutcomeStopLoss Outcome = "stop_loss"
)

// SymbolCooldown is the active cooldown for one symbol.
type SymbolCooldown struct {
	Until   time.Time `json:"until"`
	Outcome Outcome   `json:"outcome"`
	SetAt   time.Time `json:"set_at"`
}

// CooldownState is per-symbol and global trade-pacing memory.
type CooldownState struct {
	LastTrade         map[string]time.Time      `json:"last_trade"`
	LastGlobalTrade   time.Time                 `json:"last_global_trade"`
	ConsecutiveLosses int                       `json:"consecutive_losses"`
	Cooldowns         map[string]SymbolCooldown `json:"cooldowns"`
}

// NewCooldownState returns an empty state.
func NewCooldownState() CooldownState {
	return CooldownState{
		LastTrade: make(map[string]time.Time),
		Cooldowns: make(map[string]SymbolCooldown),
	}
}

// Clone returns a deep copy.
func (c CooldownState) Clone() CooldownState {
	out := c
	out.LastTrade = make(map[string]time.Time, len(c.LastTrade))
	for k, v := range c.LastTrade {
		out.LastTrade[k] = v
	}
	out.Cooldowns = make(map[string]SymbolCooldown, len(c.Cooldowns))
	for k, v := range c.Cooldowns {
		out.Cooldowns[k] = v
	}
	return out
}

// Active returns the cooldown covering now, if any. The window is [SetAt, Until).
func (c CooldownState) Active(symbol string, now time.Time) (SymbolCooldown, bool) {
	cd, ok := c.Cooldowns[symbol]
	if !ok {
		return SymbolCooldown{}, false
	}
	if now.Before(cd.Until) {
		return cd, true
	}
	return SymbolCooldown{}, false
}

// Snapshot is the unit of persistence: portfolio and cooldowns are always
// saved together so a crash cannot leave them out of step.
type Snapshot struct {
	Account   string         `json:"account"`
	Version   int64          `json:"version"`
	Portfolio PortfolioState `json:"portfolio"`
	Cooldowns CooldownState  `json:"cooldowns"`
	SavedAt   time.Time      `json:"saved_at"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Portfolio = s.Portfolio.Clone()
	out.Cooldowns = s.Cooldowns.Clone()
	return out
}

// Normalize fills nil maps left by older or hand-written snapshots.
func (s *Snapshot) Normalize() {
	if s.Portfolio.Positions == nil {
		s.Portfolio.Positions = make(map[string]Position)
	}
	if s.Portfolio.ProcessedFills == nil {
		s.Portfolio.ProcessedFills = make(map[string]time.Time)
	}
	if s.Portfolio.TradedOrders == nil {
		s.Portfolio.TradedOrders = make(map[string]time.Time)
	}
	if s.Portfolio.Exits == nil {
		s.Portfolio.Exits = make(map[string]ExitProgress)
	}
	if s.Portfolio.BlockedSymbols == nil {
		s.Portfolio.BlockedSymbols = make(map[string]string)
	}
	if s.Cooldowns.LastTrade == nil {
		s.Cooldowns.LastTrade = make(map[string]time.Time)
	}
	if s.Cooldowns.Cooldowns == nil {
		s.Cooldowns.Cooldowns = make(map[string]SymbolCooldown)
	}
}
