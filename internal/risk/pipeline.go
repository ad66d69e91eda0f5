package risk

import (
	"fmt"
	"math"
	"sort"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/marketdata"
)

// eps absorbs float noise when comparing notionals against caps.
const eps = 1e-9

type candidate struct {
	idx      int
	p        domain.TradeProposal
	rejected bool
}

// run is the mutable working state of one Evaluate call. It owns copies of
// everything it touches.
type run struct {
	e   *Engine
	in  Input
	cfg config.Config
	reg config.Regime
	pf  domain.PortfolioState
	nav float64

	live       []candidate
	rejections []domain.Rejection
	resizes    []domain.Resize
	violated   []string
	seen       map[string]bool
	halted     bool
	haltReason string
}

func newRun(e *Engine, in Input) *run {
	pf := in.Portfolio.Clone()
	pf.Roll(in.Now)

	live := make([]candidate, len(in.Proposals))
	for i, p := range in.Proposals {
		live[i] = candidate{idx: i, p: p}
	}
	return &run{
		e:    e,
		in:   in,
		cfg:  e.cfg,
		reg:  e.cfg.RegimeFor(in.Regime),
		pf:   pf,
		nav:  pf.AccountValue,
		live: live,
		seen: make(map[string]bool),
	}
}

// execute runs the stages in order. Each stage sees only the survivors of
// the previous one; a stage returning false halted the batch.
func (r *run) execute() {
	stages := []func() bool{
		r.killSwitch,
		r.lossStops,
		r.drawdown,
		r.validate,
		r.regimeSizing,
		r.circuitBreakers,
		r.outlierTick,
		r.noShorting,
		r.cooldowns,
		r.strategyBudget,
		r.exposureCaps,
		r.positionsAndFrequency,
		r.minConviction,
	}
	for _, stage := range stages {
		ok := stage()
		r.compact()
		if !ok || len(r.live) == 0 {
			return
		}
	}
}

func (r *run) result() domain.RiskCheckResult {
	res := domain.RiskCheckResult{
		ViolatedChecks:    r.violated,
		ApprovedProposals: []domain.TradeProposal{},
		Rejections:        r.rejections,
		Resizes:           r.resizes,
		Halted:            r.halted,
	}
	if !r.halted {
		for _, c := range r.live {
			res.ApprovedProposals = append(res.ApprovedProposals, c.p)
		}
	}
	res.Approved = !r.halted && len(res.ApprovedProposals) > 0

	switch {
	case r.halted:
		res.Reason = r.haltReason
	case !res.Approved:
		res.Reason = fmt.Sprintf("all %d proposals rejected", len(r.in.Proposals))
	case len(r.rejections) > 0 || len(r.resizes) > 0:
		res.Reason = fmt.Sprintf("approved %d of %d (%d rejected, %d resized)",
			len(res.ApprovedProposals), len(r.in.Proposals), len(r.rejections), len(r.resizes))
	default:
		res.Reason = "approved"
	}
	return res
}

func (r *run) violate(check string) {
	if !r.seen[check] {
		r.seen[check] = true
		r.violated = append(r.violated, check)
	}
}

func (r *run) reject(c *candidate, check, reason string) {
	c.rejected = true
	r.violate(check)
	r.rejections = append(r.rejections, domain.Rejection{
		ProposalID: c.p.ID,
		Symbol:     c.p.Symbol,
		Check:      check,
		Reason:     reason,
	})
}

func (r *run) resize(c *candidate, check string, toPct float64) {
	r.violate(check)
	r.resizes = append(r.resizes, domain.Resize{
		ProposalID: c.p.ID,
		Symbol:     c.p.Symbol,
		Check:      check,
		FromPct:    c.p.SizePct,
		ToPct:      toPct,
	})
	c.p = c.p.WithSize(toPct)
}

// halt rejects every surviving proposal under check.
func (r *run) halt(check, reason string) bool {
	for i := range r.live {
		r.reject(&r.live[i], check, reason)
	}
	r.halted = true
	r.haltReason = check + ": " + reason
	return false
}

func (r *run) compact() {
	out := r.live[:0]
	for _, c := range r.live {
		if !c.rejected {
			out = append(out, c)
		}
	}
	r.live = out
}

// entriesByConviction returns indices into r.live of BUY proposals ordered
// by descending conviction, ties kept in input order.
func (r *run) entriesByConviction() []int {
	var idx []int
	for i, c := range r.live {
		if c.p.IsEntry() {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return r.live[idx[a]].p.Conviction > r.live[idx[b]].p.Conviction
	})
	return idx
}

func (r *run) themeOf(p domain.TradeProposal) string {
	if p.Theme != "" {
		return p.Theme
	}
	return r.cfg.ThemeOf(p.Symbol)
}

// --- account-scoped halts -------------------------------------------------

func (r *run) killSwitch() bool {
	if !r.in.KillSwitch {
		return true
	}
	reason := r.in.KillSwitchReason
	if reason == "" {
		reason = "halt signal present"
	}
	return r.halt(domain.CheckKillSwitch, "kill_switch active: "+reason)
}

func (r *run) lossStops() bool {
	rk := r.cfg.Risk
	if daily := r.pf.DailyPnLPct(); rk.DailyMaxLossPct > 0 && daily <= -rk.DailyMaxLossPct {
		return r.halt(domain.CheckDailyStop, fmt.Sprintf("daily realized PnL %.2f%% at or below floor -%.2f%%",
			daily*100, rk.DailyMaxLossPct*100))
	}
	if weekly := r.pf.WeeklyPnLPct(); rk.WeeklyMaxLossPct > 0 && weekly <= -rk.WeeklyMaxLossPct {
		return r.halt(domain.CheckWeeklyStop, fmt.Sprintf("weekly realized PnL %.2f%% at or below floor -%.2f%%",
			weekly*100, rk.WeeklyMaxLossPct*100))
	}
	return true
}

func (r *run) drawdown() bool {
	if r.nav <= 0 || math.IsNaN(r.nav) {
		return r.halt(domain.CheckMaxDrawdown, fmt.Sprintf("account value %v is not positive", r.nav))
	}
	if dd := r.pf.Drawdown(); r.cfg.Risk.MaxDrawdownPct > 0 && dd >= r.cfg.Risk.MaxDrawdownPct {
		return r.halt(domain.CheckMaxDrawdown, fmt.Sprintf("drawdown %.2f%% from high-water mark %.2f at or above ceiling %.2f%%",
			dd*100, r.pf.HighWaterMark, r.cfg.Risk.MaxDrawdownPct*100))
	}
	return true
}

// --- per-proposal checks --------------------------------------------------

func (r *run) validate() bool {
	ids := make(map[string]bool, len(r.live))
	for i := range r.live {
		c := &r.live[i]
		p := c.p
		var reason string
		switch {
		case p.ID == "":
			reason = "missing proposal id"
		case ids[p.ID]:
			reason = fmt.Sprintf("duplicate proposal id %s", p.ID)
		case p.Symbol == "":
			reason = "missing symbol"
		case !p.Side.Valid():
			reason = fmt.Sprintf("unknown side %q", p.Side)
		case math.IsNaN(p.SizePct) || p.SizePct <= 0 || p.SizePct > 1:
			reason = fmt.Sprintf("size_pct %v outside (0,1]", p.SizePct)
		case math.IsNaN(p.Conviction) || p.Conviction < 0 || p.Conviction > 1:
			reason = fmt.Sprintf("conviction %v outside [0,1]", p.Conviction)
		}
		ids[p.ID] = true
		if reason != "" {
			r.reject(c, domain.CheckInvalidProposal, reason)
		}
	}
	return true
}

func (r *run) regimeSizing() bool {
	mult := r.reg.SizeMultiplier
	if mult == 1 || mult <= 0 {
		return true
	}
	for i := range r.live {
		c := &r.live[i]
		if c.p.IsEntry() {
			r.resize(c, domain.CheckRegime, math.Min(c.p.SizePct*mult, 1))
		}
	}
	return true
}

func (r *run) circuitBreakers() bool {
	rk := r.cfg.Risk
	m := r.in.Market
	if rk.VolatilityHalt > 0 && m.ReferenceVolatility > rk.VolatilityHalt {
		return r.halt(domain.CheckVolatilityHalt, fmt.Sprintf("reference volatility %.4f (%s) above halt threshold %.4f",
			m.ReferenceVolatility, rk.ReferenceSymbol, rk.VolatilityHalt))
	}

	for i := range r.live {
		c := &r.live[i]
		sym := c.p.Symbol

		q, ok := m.Quotes[sym]
		if !ok {
			r.reject(c, domain.CheckStaleData, fmt.Sprintf("no quote for %s", sym))
			continue
		}
		if err := marketdata.CheckFreshness(q, r.in.Now, rk.MaxQuoteAge, r.cfg.Execution.MaxClockSkew); err != nil {
			r.reject(c, domain.CheckStaleData, err.Error())
			continue
		}

		prod, ok := m.Products[sym]
		if !ok {
			r.reject(c, domain.CheckProductHealth, fmt.Sprintf("no product metadata for %s", sym))
			continue
		}
		if !prod.Healthy() {
			r.reject(c, domain.CheckProductHealth, fmt.Sprintf("%s not tradable (status=%s trading_disabled=%v cancel_only=%v)",
				sym, prod.Status, prod.TradingDisabled, prod.CancelOnly))
			continue
		}

		if vol, ok := m.Volatility[sym]; c.p.IsEntry() && ok && rk.MaxSymbolVolatility > 0 && vol > rk.MaxSymbolVolatility {
			r.reject(c, domain.CheckVolatility, fmt.Sprintf("%s realized volatility %.4f above %.4f", sym, vol, rk.MaxSymbolVolatility))
			continue
		}

		if key, blocked := r.pf.BlockedSymbols[sym]; blocked {
			r.reject(c, domain.CheckReconciliationPending, fmt.Sprintf("%s has unresolved order %s awaiting reconciliation", sym, key))
			continue
		}
	}
	return true
}

func (r *run) outlierTick() bool {
	rk := r.cfg.Risk
	if rk.OutlierMovePct <= 0 {
		return true
	}
	for i := range r.live {
		c := &r.live[i]
		if !c.p.IsEntry() {
			continue
		}
		move := math.Abs(c.p.TriggerMovePct)
		if move > rk.OutlierMovePct && c.p.VolumeRatio < rk.OutlierMinVolumeRatio {
			r.reject(c, domain.CheckOutlierTick, fmt.Sprintf("trigger move %.2f%% above %.2f%% without volume corroboration (ratio %.2f < %.2f)",
				move*100, rk.OutlierMovePct*100, c.p.VolumeRatio, rk.OutlierMinVolumeRatio))
		}
	}
	return true
}

func (r *run) noShorting() bool {
	sellable := make(map[string]float64)
	for i := range r.live {
		c := &r.live[i]
		if c.p.Side != domain.SideSell {
			continue
		}
		sym := c.p.Symbol
		if !r.pf.HasLong(sym) {
			r.reject(c, domain.CheckNoShorting, fmt.Sprintf("SELL %s without a long position", sym))
			continue
		}
		if _, ok := sellable[sym]; !ok {
			sellable[sym] = r.pf.Positions[sym].Notional() - r.pendingSellNotional(sym)
		}
		remaining := sellable[sym]
		if remaining <= eps {
			r.reject(c, domain.CheckNoShorting, fmt.Sprintf("%s position already committed to pending sells", sym))
			continue
		}
		if want := c.p.SizePct * r.nav; want > remaining+eps {
			r.resize(c, domain.CheckNoShorting, remaining/r.nav)
		}
		sellable[sym] = remaining - c.p.SizePct*r.nav
	}
	return true
}

func (r *run) pendingSellNotional(symbol string) float64 {
	var total float64
	for _, o := range r.pf.PendingOrders {
		if o.Symbol == symbol && o.Side == domain.SideSell {
			total += math.Abs(o.WorstCaseNotional)
		}
	}
	return total
}

func (r *run) cooldowns() bool {
	for i := range r.live {
		c := &r.live[i]
		if !c.p.IsEntry() {
			continue
		}
		if reason, blocked := r.e.cooldown.Blocked(r.in.Cooldowns, c.p.Symbol, r.in.Now); blocked {
			r.reject(c, domain.CheckCooldown, reason)
		}
	}
	return true
}

func (r *run) strategyBudget() bool {
	count := make(map[string]int)
	admitted := make(map[string]float64)
	for _, i := range r.entriesByConviction() {
		c := &r.live[i]
		id := c.p.StrategyID
		budget := r.cfg.StrategyBudget(id)
		maxPct := budget.MaxExposurePct * r.reg.CapMultiplier

		if count[id] >= budget.MaxProposalsPerCycle {
			r.reject(c, domain.CheckStrategyBudget, fmt.Sprintf("strategy %q already has %d proposals this cycle (max %d)",
				id, count[id], budget.MaxProposalsPerCycle))
			continue
		}
		existing := r.pf.StrategyExposure(id) / r.nav
		if existing+admitted[id]+c.p.SizePct > maxPct+eps {
			r.reject(c, domain.CheckStrategyBudget, fmt.Sprintf("strategy %q at-risk %.2f%% + %.2f%% exceeds budget %.2f%%",
				id, (existing+admitted[id])*100, c.p.SizePct*100, maxPct*100))
			continue
		}
		count[id]++
		admitted[id] += c.p.SizePct
	}
	return true
}

// exposureCaps allocates remaining headroom under the per-symbol, per-theme
// and total caps to entries in descending conviction. Exposure is always
// filled plus pending BUY notional plus what this run already admitted.
func (r *run) exposureCaps() bool {
	rk := r.cfg.Risk
	mult := r.reg.CapMultiplier
	symCap := rk.MaxPositionPct * mult * r.nav
	totalCap := rk.MaxTotalExposurePct * mult * r.nav

	symExp := make(map[string]float64)
	themeExp := make(map[string]float64)
	totalExp := r.pf.TotalExposure()

	for _, i := range r.entriesByConviction() {
		c := &r.live[i]
		sym := c.p.Symbol
		theme := r.themeOf(c.p)
		if _, ok := symExp[sym]; !ok {
			symExp[sym] = r.pf.SymbolExposure(sym)
		}
		if _, ok := themeExp[theme]; !ok {
			themeExp[theme] = r.pf.ThemeExposure(theme, r.cfg.ThemeOf)
		}
		themeCap := r.cfg.ThemeCap(theme) * mult * r.nav

		headroom, binding, limit := symCap-symExp[sym], domain.CheckPositionSizeCap, symCap
		if h := themeCap - themeExp[theme]; h < headroom {
			headroom, binding, limit = h, domain.CheckThemeCap, themeCap
		}
		if h := totalCap - totalExp; h < headroom {
			headroom, binding, limit = h, domain.CheckTotalExposureCap, totalCap
		}

		want := c.p.SizePct * r.nav
		floor := r.minOrderNotional(sym)
		granted := want
		if math.Max(want, floor) > headroom+eps {
			if headroom+eps < floor {
				r.reject(c, binding, fmt.Sprintf("%s needs %.2f but only %.2f of %.2f cap remains (min order %.2f after fees)",
					sym, want, math.Max(headroom, 0), limit, floor))
				continue
			}
			granted = headroom
			r.resize(c, binding, granted/r.nav)
		}
		// Execution never commits less than the floor.
		committed := math.Max(granted, floor)
		symExp[sym] += committed
		themeExp[theme] += committed
		totalExp += committed
	}
	return true
}

// minOrderNotional is the smallest quote amount execution will commit for
// symbol: the minimum notional grossed up for taker fees, raised to the
// product minimums at the current ask.
func (r *run) minOrderNotional(symbol string) float64 {
	min := math.Max(r.cfg.Risk.MinNotional, r.cfg.Execution.MinNotional)
	floor := r.e.fees.GrossForNet(min, domain.LiquidityTaker)
	prod, ok := r.in.Market.Products[symbol]
	if !ok {
		return floor
	}
	floor = math.Max(floor, prod.MinMarketFunds)
	if q, ok := r.in.Market.Quotes[symbol]; ok && q.Ask > 0 {
		floor = math.Max(floor, prod.BaseMinSize*q.Ask)
	}
	return floor
}

func (r *run) positionsAndFrequency() bool {
	rk := r.cfg.Risk
	open := r.pf.OpenPositionCount()
	opened := make(map[string]bool)
	hour := r.pf.TradesThisHour
	day := r.pf.TradesToday

	for _, i := range r.entriesByConviction() {
		c := &r.live[i]
		sym := c.p.Symbol
		isAdd := r.pf.HasLong(sym) || r.pf.PendingBuyNotional(sym) > 0 || opened[sym]

		if open >= rk.MaxOpenPositions && (!isAdd || !rk.ExemptAddsFromPositionCap) {
			r.reject(c, domain.CheckMaxPositions, fmt.Sprintf("%d open positions, max %d", open, rk.MaxOpenPositions))
			continue
		}
		if hour >= rk.MaxTradesPerHour {
			r.reject(c, domain.CheckTradeFrequency, fmt.Sprintf("%d trades this hour, max %d", hour, rk.MaxTradesPerHour))
			continue
		}
		if day >= rk.MaxTradesPerDay {
			r.reject(c, domain.CheckTradeFrequency, fmt.Sprintf("%d trades today, max %d", day, rk.MaxTradesPerDay))
			continue
		}
		if !isAdd {
			open++
			opened[sym] = true
		}
		hour++
		day++
	}
	return true
}

func (r *run) minConviction() bool {
	floor := r.cfg.Risk.MinConviction
	if r.reg.MinConviction != nil {
		floor = *r.reg.MinConviction
	}
	for i := range r.live {
		c := &r.live[i]
		if c.p.IsEntry() && c.p.Conviction < floor {
			r.reject(c, domain.CheckMinConviction, fmt.Sprintf("conviction %.2f below floor %.2f", c.p.Conviction, floor))
		}
	}
	return true
}
