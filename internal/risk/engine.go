// Package risk implements the admission pipeline: an ordered sequence of
// checks that approves, rejects or down-sizes the proposals of one cycle.
//
// Evaluate is pure: it performs no I/O, reads nothing outside its Input and
// never mutates it. RunAdmission gathers the non-portfolio inputs from an
// Environment and calls Evaluate.
package risk

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/cooldown"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/fees"
)

// MarketConditions is the market view admission works from. Missing
// entries fail closed.
type MarketConditions struct {
	Quotes              map[string]domain.Quote
	Products            map[string]domain.Product
	Volatility          map[string]float64 // realized volatility per symbol
	ReferenceVolatility float64            // realized volatility of the reference symbol
}

// Input is everything one admission run depends on.
type Input struct {
	Proposals []domain.TradeProposal
	Portfolio domain.PortfolioState
	Cooldowns domain.CooldownState
	Market    MarketConditions
	Regime    string
	Now       time.Time

	KillSwitch       bool
	KillSwitchReason string
}

// Environment supplies the inputs RunAdmission does not take as arguments.
type Environment interface {
	Cooldowns() domain.CooldownState
	Market() MarketConditions
	KillSwitch() (active bool, reason string)
}

// Options for creating an Engine.
type Options struct {
	Config   config.Config
	Cooldown *cooldown.Tracker // defaults to one built from Config.Cooldown
	Env      Environment
	Logger   zerolog.Logger
}

// Engine runs admission.
type Engine struct {
	cfg      config.Config
	cooldown *cooldown.Tracker
	fees     fees.Model
	env      Environment
	logger   zerolog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	tracker := opts.Cooldown
	if tracker == nil {
		tracker = cooldown.New(opts.Config.Cooldown)
	}
	return &Engine{
		cfg:      opts.Config,
		cooldown: tracker,
		fees:     fees.New(opts.Config.Fees.MakerBps, opts.Config.Fees.TakerBps),
		env:      opts.Env,
		logger:   opts.Logger,
	}
}

// RunAdmission evaluates proposals against portfolio using the engine's
// Environment for cooldowns, market conditions and the kill switch.
// Without an Environment the kill switch is treated as active.
func (e *Engine) RunAdmission(proposals []domain.TradeProposal, portfolio domain.PortfolioState, regime string, now time.Time) domain.RiskCheckResult {
	in := Input{
		Proposals: proposals,
		Portfolio: portfolio,
		Regime:    regime,
		Now:       now,
	}
	if e.env == nil {
		in.KillSwitch = true
		in.KillSwitchReason = "admission environment not configured"
		return e.Evaluate(in)
	}
	in.Cooldowns = e.env.Cooldowns()
	in.Market = e.env.Market()
	in.KillSwitch, in.KillSwitchReason = e.env.KillSwitch()
	return e.Evaluate(in)
}

// Evaluate runs every check in order. A panic anywhere in the pipeline is
// converted into a rejection of the whole batch.
func (e *Engine) Evaluate(in Input) (result domain.RiskCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("admission panicked; rejecting batch")
			result = failClosed(in.Proposals, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if len(in.Proposals) == 0 {
		return domain.RiskCheckResult{Reason: "no proposals"}
	}

	r := newRun(e, in)
	r.execute()
	result = r.result()

	for _, rej := range result.Rejections {
		e.logger.Debug().
			Str("proposal", rej.ProposalID).
			Str("symbol", rej.Symbol).
			Str("check", rej.Check).
			Msg(rej.Reason)
	}
	e.logger.Info().
		Bool("approved", result.Approved).
		Int("proposals", len(in.Proposals)).
		Int("admitted", len(result.ApprovedProposals)).
		Int("resized", len(result.Resizes)).
		Strs("violated", result.ViolatedChecks).
		Str("regime", in.Regime).
		Msg("admission complete")
	return result
}

func failClosed(proposals []domain.TradeProposal, reason string) domain.RiskCheckResult {
	res := domain.RiskCheckResult{
		Reason:            domain.CheckInternalError + ": " + reason,
		ViolatedChecks:    []string{domain.CheckInternalError},
		ApprovedProposals: []domain.TradeProposal{},
		Halted:            true,
	}
	for _, p := range proposals {
		res.Rejections = append(res.Rejections, domain.Rejection{
			ProposalID: p.ID,
			Symbol:     p.Symbol,
			Check:      domain.CheckInternalError,
			Reason:     reason,
		})
	}
	return res
}
