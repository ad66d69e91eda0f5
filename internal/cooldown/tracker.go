// Package cooldown maintains per-symbol and global trade pacing.
package cooldown

import (
	"fmt"
	"time"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/domain"
)

// Tracker applies the cooldown policy to a CooldownState. It holds no state
// of its own; callers pass the snapshot in and persist it afterwards.
type Tracker struct {
	cfg config.Cooldown
}

// New creates a Tracker.
func New(cfg config.Cooldown) *Tracker {
	return &Tracker{cfg: cfg}
}

// Duration returns the cooldown length for an outcome.
func (t *Tracker) Duration(o domain.Outcome) time.Duration {
	switch o {
	case domain.OutcomeWin:
		return t.cfg.AfterWin
	case domain.OutcomeStopLoss:
		return t.cfg.AfterStopLoss
	default:
		return t.cfg.AfterLoss
	}
}

// Blocked reports whether a new entry on symbol is blocked at now and why.
func (t *Tracker) Blocked(state domain.CooldownState, symbol string, now time.Time) (string, bool) {
	if cd, ok := state.Active(symbol, now); ok {
		return fmt.Sprintf("%s cooldown after %s until %s", symbol, cd.Outcome, cd.Until.UTC().Format(time.RFC3339)), true
	}
	if t.cfg.MinReentryInterval > 0 {
		if last, ok := state.LastTrade[symbol]; ok && now.Before(last.Add(t.cfg.MinReentryInterval)) {
			return fmt.Sprintf("%s traded %s ago, min re-entry interval %s",
				symbol, now.Sub(last).Truncate(time.Second), t.cfg.MinReentryInterval), true
		}
	}
	if t.cfg.GlobalMinInterval > 0 && !state.LastGlobalTrade.IsZero() &&
		now.Before(state.LastGlobalTrade.Add(t.cfg.GlobalMinInterval)) {
		return fmt.Sprintf("global trade interval %s not elapsed", t.cfg.GlobalMinInterval), true
	}
	if t.cfg.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= t.cfg.MaxConsecutiveLosses &&
		now.Before(state.LastGlobalTrade.Add(t.cfg.LossStreakPause)) {
		return fmt.Sprintf("%d consecutive losses, paused until %s",
			state.ConsecutiveLosses, state.LastGlobalTrade.Add(t.cfg.LossStreakPause).UTC().Format(time.RFC3339)), true
	}
	return "", false
}

// RecordEntry notes a BUY fill.
func (t *Tracker) RecordEntry(state *domain.CooldownState, symbol string, at time.Time) {
	ensure(state)
	if at.After(state.LastTrade[symbol]) {
		state.LastTrade[symbol] = at
	}
	if at.After(state.LastGlobalTrade) {
		state.LastGlobalTrade = at
	}
}

// RecordExit notes a closing fill and starts the outcome's cooldown. An
// existing longer cooldown is never shortened.
func (t *Tracker) RecordExit(state *domain.CooldownState, symbol string, outcome domain.Outcome, at time.Time) domain.SymbolCooldown {
	t.RecordEntry(state, symbol, at)

	switch outcome {
	case domain.OutcomeWin:
		state.ConsecutiveLosses = 0
	default:
		state.ConsecutiveLosses++
	}

	next := domain.SymbolCooldown{Until: at.Add(t.Duration(outcome)), Outcome: outcome, SetAt: at}
	if cur, ok := state.Cooldowns[symbol]; ok && cur.Until.After(next.Until) {
		return cur
	}
	state.Cooldowns[symbol] = next
	return next
}

// Prune drops cooldowns that have expired at now.
func (t *Tracker) Prune(state *domain.CooldownState, now time.Time) int {
	n := 0
	for sym, cd := range state.Cooldowns {
		if !now.Before(cd.Until) {
			delete(state.Cooldowns, sym)
			n++
		}
	}
	return n
}

// Classify maps a closing trade to an outcome. A stop-loss exit wins over
// the PnL sign.
func Classify(realizedPnL float64, exitReason string) domain.Outcome {
	if exitReason == domain.ExitReasonStopLoss {
		return domain.OutcomeStopLoss
	}
	if realizedPnL > 0 {
		return domain.OutcomeWin
	}
	return domain.OutcomeLoss
}

func ensure(state *domain.CooldownState) {
	if state.LastTrade == nil {
		state.LastTrade = make(map[string]time.Time)
	}
	if state.Cooldowns == nil {
		state.Cooldowns = make(map[string]domain.SymbolCooldown)
	}
}
