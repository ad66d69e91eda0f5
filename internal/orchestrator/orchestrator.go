// Package orchestrator runs the trading cycle.
// It coordinates: proposals → admission → execution → reconciliation
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"coinbase-trader/internal/alert"
	"coinbase-trader/internal/config"
	"coinbase-trader/internal/cooldown"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/execution"
	"coinbase-trader/internal/idhash"
	"coinbase-trader/internal/killswitch"
	"coinbase-trader/internal/marketdata"
	"coinbase-trader/internal/observability"
	"coinbase-trader/internal/proposals"
	"coinbase-trader/internal/reconcile"
	"coinbase-trader/internal/risk"
	"coinbase-trader/internal/storage"
)

// Cycle statuses.
const (
	StatusIdle    = "IDLE"     // no proposals this cycle
	StatusTraded  = "TRADED"   // at least one order reached the exchange or ledger
	StatusNoTrade = "NO_TRADE" // nothing submitted
	StatusHalted  = "HALTED"   // kill switch or a hard admission halt
)

const (
	// volatility window used for the circuit breakers
	volatilityGranularity = time.Hour
	volatilityBars        = 24

	// fills this far before the last reconciliation are fetched again;
	// processed fill ids make the overlap harmless
	reconcileOverlap = 15 * time.Minute
	firstReconcile   = 24 * time.Hour

	defaultSweepTimeout = 3 * time.Second
	sweepParallelism    = 4
	marketParallelism   = 4
)

// Alert titles raised by the loop.
const (
	AlertKillSwitch      = "kill switch engaged"
	AlertHalted          = "trading halted"
	AlertFailureStreak   = "repeated cycle failures"
	AlertReconcileFailed = "reconciliation failed"
)

// Executor places one order and tracks it to a terminal state.
type Executor interface {
	Execute(ctx context.Context, symbol string, side domain.Side, sizeQuote float64, mode domain.Mode, opts ...execution.OrderOption) (domain.ExecutionResult, error)
	Mode() domain.Mode
}

// Reconciler rebuilds the stored snapshot from the exchange.
type Reconciler interface {
	Reconcile(ctx context.Context, since time.Time) (reconcile.ReconciliationSummary, error)
}

// resolver is implemented by notifiers that track open alerts.
type resolver interface {
	Resolve(title string)
}

// Orchestrator runs one cycle at a time.
type Orchestrator struct {
	cfg       config.Config
	source    proposals.Source
	market    marketdata.Provider
	snapshots storage.SnapshotStore
	audit     storage.AuditStore
	executor  Executor
	rec       Reconciler
	conn      exchange.Connector
	kill      killswitch.Switch
	risk      *risk.Engine
	env       *cycleEnv
	notifier  alert.Notifier
	logger    zerolog.Logger
	now       func() time.Time

	// loop state
	lastReconcile time.Time
	failures      int

	mu   sync.RWMutex
	last *CycleResult
}

// Options for creating Orchestrator.
type Options struct {
	Config config.Config

	// Required
	Proposals  proposals.Source
	Market     marketdata.Provider
	Snapshots  storage.SnapshotStore
	Executor   Executor
	Reconciler Reconciler

	// Optional
	Audit      storage.AuditStore // audit trail; nil disables it
	Connector  exchange.Connector // open-order source for the kill-switch sweep
	KillSwitch killswitch.Switch  // nil means never engaged
	Cooldown   *cooldown.Tracker  // defaults to one built from Config.Cooldown
	Notifier   alert.Notifier
	Logger     zerolog.Logger
	Now        func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Proposals == nil:
		return nil, errors.New("orchestrator: proposal source is required")
	case opts.Market == nil:
		return nil, errors.New("orchestrator: market data provider is required")
	case opts.Snapshots == nil:
		return nil, errors.New("orchestrator: snapshot store is required")
	case opts.Executor == nil:
		return nil, errors.New("orchestrator: executor is required")
	case opts.Reconciler == nil:
		return nil, errors.New("orchestrator: reconciler is required")
	}
	if opts.KillSwitch == nil {
		opts.KillSwitch = &killswitch.Static{}
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	env := &cycleEnv{}
	return &Orchestrator{
		cfg:       opts.Config,
		source:    opts.Proposals,
		market:    opts.Market,
		snapshots: opts.Snapshots,
		audit:     opts.Audit,
		executor:  opts.Executor,
		rec:       opts.Reconciler,
		conn:      opts.Connector,
		kill:      opts.KillSwitch,
		risk: risk.New(risk.Options{
			Config:   opts.Config,
			Cooldown: opts.Cooldown,
			Env:      env,
			Logger:   opts.Logger,
		}),
		env:      env,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// CycleResult contains results from one cycle.
type CycleResult struct {
	CycleID string
	Status  string
	Reason  string

	BatchID   string
	Regime    string
	Proposals int

	Admission      domain.RiskCheckResult
	Orders         []domain.ExecutionResult
	Reconciliation *reconcile.ReconciliationSummary

	KillSwitch bool
	Cancelled  int // orders cancelled by the kill-switch sweep

	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// LastCycle returns the most recent cycle result, if any.
func (o *Orchestrator) LastCycle() (CycleResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return CycleResult{}, false
	}
	return *o.last, true
}

// Run executes cycles every Loop.Interval until ctx is done. A failed cycle
// is logged and the loop carries on.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.cfg.Loop.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.RunCycle(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle executes one trading cycle.
// Phases:
//  1. Kill switch (and cancel sweep when engaged)
//  2. Next proposal batch
//  3. Snapshot
//  4. Market conditions
//  5. Admission
//  6. Execution
//  7. Reconciliation
//  8. Audit trail
//
// Anything escaping a phase ends the cycle as NO_TRADE.
func (o *Orchestrator) RunCycle(ctx context.Context) (result CycleResult, err error) {
	started := time.Now()
	result = CycleResult{
		CycleID:   uuid.NewString(),
		Status:    StatusNoTrade,
		StartedAt: o.now(),
	}
	var events []domain.AuditEvent

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("cycle", result.CycleID).
				Msg("cycle panicked; treating as NO_TRADE")
			result.Status = StatusNoTrade
			result.Reason = fmt.Sprintf("internal error: %v", r)
			err = fmt.Errorf("cycle %s: %s", result.CycleID, result.Reason)
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		result.FinishedAt = o.now()
		o.writeAudit(ctx, result.CycleID, events)
		o.finish(ctx, &result, err)
		observability.RecordCycle(result.Status, time.Since(started).Seconds(), result.FinishedAt.Unix())
	}()

	now := result.StartedAt
	log := o.logger.With().Str("cycle", result.CycleID).Logger()

	// Phase 1: Kill switch
	engaged, why := o.kill.Engaged()
	observability.SetKillSwitch(engaged)
	result.KillSwitch = engaged
	if engaged {
		events = append(events, o.halt(ctx, log, &result, why, now))
	}

	// Phase 2: Proposals
	batch, err := o.source.Next(ctx)
	if err != nil {
		result.Reason = "proposal source failed"
		return result, fmt.Errorf("next batch: %w", err)
	}
	result.BatchID = batch.ID
	result.Regime = batch.Regime
	result.Proposals = len(batch.Proposals)

	// Phase 3: Snapshot
	snap, err := o.loadSnapshot(ctx, now)
	if err != nil {
		result.Reason = "snapshot unavailable"
		return result, err
	}
	portfolio := snap.Portfolio.Clone()
	portfolio.Roll(now)

	if len(batch.Proposals) > 0 {
		// Phase 4: Market conditions
		market := o.marketConditions(ctx, batch.Proposals)

		// Phase 5: Admission
		o.env.set(snap.Cooldowns, market, engaged, why)
		result.Admission = o.risk.RunAdmission(batch.Proposals, portfolio, batch.Regime, now)
		o.recordAdmission(result.Admission, len(batch.Proposals))
		events = append(events, o.admissionEvents(result.CycleID, batch.Proposals, result.Admission, now)...)
		if result.Admission.Halted && !engaged {
			o.alert(ctx, alert.SeverityCritical, AlertHalted, result.Admission.Reason, map[string]string{
				"cycle":  result.CycleID,
				"checks": fmt.Sprint(result.Admission.ViolatedChecks),
			})
		}

		// Phase 6: Execution
		orders, errs, killed := o.execute(ctx, log, result.Admission.ApprovedProposals, portfolio.AccountValue, now)
		result.Orders = orders
		result.Errors = append(result.Errors, errs...)
		for _, res := range result.Orders {
			events = append(events, o.orderEvent(result.CycleID, res, now))
		}
		if killed != "" {
			observability.SetKillSwitch(true)
			events = append(events, o.halt(ctx, log, &result, killed, now))
		}
	}

	// Phase 7: Reconciliation
	sum, rerr := o.reconcile(ctx, snap)
	if rerr != nil {
		result.Errors = append(result.Errors, rerr.Error())
		o.alert(ctx, alert.SeverityWarning, AlertReconcileFailed, rerr.Error(), map[string]string{"cycle": result.CycleID})
	} else {
		result.Reconciliation = &sum
		if r, ok := o.notifier.(resolver); ok {
			r.Resolve(AlertReconcileFailed)
		}
		events = append(events, o.event(result.CycleID, domain.AuditReconcile, fmt.Sprint(sum.Version), "", "", "", "reconciled", sum, now))
	}

	result.Status, result.Reason = classify(result)
	return result, nil
}

// loadSnapshot returns the stored snapshot, initialising it through
// reconciliation on the first run.
func (o *Orchestrator) loadSnapshot(ctx context.Context, now time.Time) (domain.Snapshot, error) {
	snap, err := o.snapshots.Load(ctx, o.cfg.Account)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}

	o.logger.Info().Str("account", o.cfg.Account).Msg("no snapshot stored; initialising from the exchange")
	sum, err := o.rec.Reconcile(ctx, now.Add(-firstReconcile))
	if err != nil {
		return snap, fmt.Errorf("initialise snapshot: %w", err)
	}
	o.lastReconcile = sum.At
	snap, err = o.snapshots.Load(ctx, o.cfg.Account)
	if err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// marketConditions gathers quotes, products and realized volatility for
// every proposed symbol and the reference symbol. Lookups that fail are
// left out; admission rejects what it cannot see.
func (o *Orchestrator) marketConditions(ctx context.Context, props []domain.TradeProposal) risk.MarketConditions {
	m := risk.MarketConditions{
		Quotes:     make(map[string]domain.Quote),
		Products:   make(map[string]domain.Product),
		Volatility: make(map[string]float64),
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, p := range props {
		if p.Symbol != "" && !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	ref := o.cfg.Risk.ReferenceSymbol

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(marketParallelism)
	for _, sym := range symbols {
		g.Go(func() error {
			q, qerr := o.market.Quote(gctx, sym)
			p, perr := o.market.Product(gctx, sym)
			vol, verr := o.volatility(gctx, sym)

			mu.Lock()
			defer mu.Unlock()
			if qerr == nil {
				m.Quotes[sym] = q
			}
			if perr == nil {
				m.Products[sym] = p
			}
			if verr == nil {
				m.Volatility[sym] = vol
			}
			if err := errors.Join(qerr, perr, verr); err != nil {
				o.logger.Warn().Err(err).Str("symbol", sym).Msg("market data incomplete")
			}
			return nil
		})
	}
	if ref != "" {
		g.Go(func() error {
			vol, err := o.volatility(gctx, ref)
			if err != nil {
				o.logger.Warn().Err(err).Str("symbol", ref).Msg("reference volatility unavailable")
				return nil
			}
			mu.Lock()
			m.ReferenceVolatility = vol
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return m
}

func (o *Orchestrator) volatility(ctx context.Context, symbol string) (float64, error) {
	candles, err := o.market.Candles(ctx, symbol, volatilityGranularity, volatilityBars)
	if err != nil {
		return 0, err
	}
	if len(candles) < 2 {
		return 0, fmt.Errorf("%d candles for %s", len(candles), symbol)
	}
	return marketdata.RealizedVolatility(candles), nil
}

// halt cancels open orders and raises the kill-switch alert. It marks the
// cycle HALTED and returns the audit event.
func (o *Orchestrator) halt(ctx context.Context, log zerolog.Logger, result *CycleResult, why string, now time.Time) domain.AuditEvent {
	log.Warn().Str("reason", why).Msg("kill switch engaged")
	result.KillSwitch = true
	n, serr := o.sweep(ctx)
	result.Cancelled += n
	msg := fmt.Sprintf("%s; cancelled %d open orders", why, n)
	if serr != nil {
		msg += "; sweep incomplete: " + serr.Error()
		result.Errors = append(result.Errors, serr.Error())
	}
	o.alert(ctx, alert.SeverityCritical, AlertKillSwitch, msg, map[string]string{"cycle": result.CycleID})
	return o.event(result.CycleID, domain.AuditKillSwitch, "", "", domain.CheckKillSwitch, "", msg, nil, now)
}

// execute places the admitted proposals one at a time. An error on one
// symbol excludes that symbol for the rest of the cycle. The kill switch is
// read before every order; once engaged nothing more is submitted and its
// reason is returned.
func (o *Orchestrator) execute(ctx context.Context, log zerolog.Logger, admitted []domain.TradeProposal, nav float64, now time.Time) ([]domain.ExecutionResult, []string, string) {
	var (
		results []domain.ExecutionResult
		errs    []string
		failed  = make(map[string]bool)
	)
	mode := o.executor.Mode()
	for i, p := range admitted {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", p.ID, ctx.Err()))
			break
		}
		if engaged, why := o.kill.Engaged(); engaged {
			log.Warn().Int("skipped", len(admitted)-i).Msg("kill switch engaged during execution")
			if why == "" {
				why = "kill switch engaged"
			}
			return results, errs, why
		}
		if failed[p.Symbol] {
			log.Warn().Str("proposal", p.ID).Str("symbol", p.Symbol).Msg("symbol excluded after an earlier failure this cycle")
			continue
		}
		size := p.SizePct * nav
		if size <= 0 {
			errs = append(errs, fmt.Sprintf("%s: no notional at NAV %.2f", p.ID, nav))
			continue
		}

		opts := []execution.OrderOption{
			execution.WithStrategy(p.StrategyID),
			execution.WithExitReason(p.ExitReason),
			execution.WithTimestamp(now),
		}
		if p.Tier != "" {
			opts = append(opts, execution.WithTier(p.Tier))
		}
		res, err := o.executor.Execute(ctx, p.Symbol, p.Side, size, mode, opts...)
		if err != nil {
			failed[p.Symbol] = true
			errs = append(errs, fmt.Sprintf("%s %s: %v", p.ID, p.Symbol, err))
			log.Error().Err(err).Str("proposal", p.ID).Str("symbol", p.Symbol).Msg("execution failed")
			if res.Order.IdempotencyKey == "" {
				continue
			}
		}
		if res.Order.State == domain.StateFailed || res.Order.RequiresReconciliation {
			failed[p.Symbol] = true
		}
		results = append(results, res)
	}
	return results, errs, ""
}

func (o *Orchestrator) reconcile(ctx context.Context, snap domain.Snapshot) (reconcile.ReconciliationSummary, error) {
	since := o.lastReconcile
	if since.IsZero() {
		since = snap.SavedAt
	}
	if since.IsZero() {
		since = o.now().Add(-firstReconcile)
	}
	sum, err := o.rec.Reconcile(ctx, since.Add(-reconcileOverlap))
	if err != nil {
		return sum, fmt.Errorf("reconcile: %w", err)
	}
	o.lastReconcile = sum.At
	return sum, nil
}

// sweep cancels every open order, bounded by the kill-switch sweep timeout.
// It is best effort: one failed cancel does not stop the others.
func (o *Orchestrator) sweep(ctx context.Context) (int, error) {
	if o.conn == nil || o.conn.ReadOnly() {
		return 0, nil
	}
	timeout := o.cfg.KillSwitch.SweepTimeout
	if timeout <= 0 {
		timeout = defaultSweepTimeout
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	open, err := o.conn.ListOpenOrders(sctx)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}

	var (
		cancelled atomic.Int64
		mu        sync.Mutex
		errs      []error
		g         errgroup.Group
	)
	g.SetLimit(sweepParallelism)
	for _, ord := range open {
		id := ord.OrderID
		g.Go(func() error {
			res, err := o.conn.CancelOrders(sctx, []string{id})
			if err == nil {
				for _, r := range res {
					if r.OrderID == id && !r.Success {
						err = fmt.Errorf("%s", r.Reason)
					}
				}
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("cancel %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			cancelled.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(cancelled.Load())
	o.logger.Warn().Int("open", len(open)).Int("cancelled", n).Msg("kill switch sweep complete")
	return n, errors.Join(errs...)
}

// finish publishes the result and tracks the failure streak.
func (o *Orchestrator) finish(ctx context.Context, result *CycleResult, err error) {
	failed := err != nil
	for _, res := range result.Orders {
		if res.Order.State == domain.StateFailed {
			failed = true
		}
	}
	if failed {
		o.failures++
	} else if o.failures > 0 {
		o.failures = 0
		if r, ok := o.notifier.(resolver); ok {
			r.Resolve(AlertFailureStreak)
		}
	}
	if n := o.cfg.Alert.FailureStreak; n > 0 && o.failures >= n {
		o.alert(ctx, alert.SeverityCritical, AlertFailureStreak,
			fmt.Sprintf("%d consecutive cycles failed; last: %s", o.failures, lastOr(result.Errors, result.Reason)),
			map[string]string{"cycle": result.CycleID})
	}

	ev := o.logger.Info()
	if failed {
		ev = o.logger.Warn()
	}
	ev.Str("cycle", result.CycleID).
		Str("status", result.Status).
		Str("batch", result.BatchID).
		Str("regime", result.Regime).
		Int("proposals", result.Proposals).
		Int("admitted", len(result.Admission.ApprovedProposals)).
		Int("orders", len(result.Orders)).
		Int("errors", len(result.Errors)).
		Dur("took", result.FinishedAt.Sub(result.StartedAt)).
		Msg(result.Reason)

	o.mu.Lock()
	last := *result
	o.last = &last
	o.mu.Unlock()
}

func (o *Orchestrator) alert(ctx context.Context, sev alert.Severity, title, msg string, fields map[string]string) {
	if err := o.notifier.Notify(ctx, sev, title, msg, fields); err != nil {
		o.logger.Error().Err(err).Str("title", title).Msg("alert failed")
	}
}

func (o *Orchestrator) recordAdmission(res domain.RiskCheckResult, evaluated int) {
	rejected := make(map[string]int)
	for _, r := range res.Rejections {
		rejected[r.Check]++
	}
	resized := make(map[string]int)
	for _, r := range res.Resizes {
		resized[r.Check]++
	}
	halt := ""
	if res.Halted && len(res.ViolatedChecks) > 0 {
		halt = res.ViolatedChecks[0]
	}
	observability.RecordAdmission(evaluated, len(res.ApprovedProposals), rejected, resized, halt)
}

func (o *Orchestrator) admissionEvents(cycleID string, props []domain.TradeProposal, res domain.RiskCheckResult, now time.Time) []domain.AuditEvent {
	var events []domain.AuditEvent
	for _, r := range res.Rejections {
		events = append(events, o.event(cycleID, domain.AuditAdmissionRejected, r.ProposalID, r.Symbol, r.Check, "", r.Reason, r, now))
	}
	for _, r := range res.Resizes {
		reason := fmt.Sprintf("resized %.4f -> %.4f", r.FromPct, r.ToPct)
		events = append(events, o.event(cycleID, domain.AuditAdmissionResized, r.ProposalID, r.Symbol, r.Check, "", reason, r, now))
	}
	for _, p := range res.ApprovedProposals {
		events = append(events, o.event(cycleID, domain.AuditAdmissionApproved, p.ID, p.Symbol, "", "", "admitted", p, now))
	}
	return events
}

func (o *Orchestrator) orderEvent(cycleID string, res domain.ExecutionResult, now time.Time) domain.AuditEvent {
	ord := res.Order
	return o.event(cycleID, domain.AuditOrderTerminal, ord.IdempotencyKey, ord.Symbol, "", string(ord.State), ord.Reason, ord, now)
}

func (o *Orchestrator) event(cycleID, kind, subject, symbol, check, state, reason string, payload any, now time.Time) domain.AuditEvent {
	ts := now.UnixMilli()
	ev := domain.AuditEvent{
		EventID:   idhash.ComputeEventID(cycleID, kind, subject, check+state, ts),
		CycleID:   cycleID,
		Kind:      kind,
		Symbol:    symbol,
		Check:     check,
		State:     state,
		Reason:    reason,
		Timestamp: ts,
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = string(b)
		}
	}
	return ev
}

// writeAudit stores the cycle's audit events. A failed write is logged and
// never affects trading.
func (o *Orchestrator) writeAudit(ctx context.Context, cycleID string, events []domain.AuditEvent) {
	if o.audit == nil || len(events) == 0 {
		return
	}
	if err := o.audit.InsertBulk(context.WithoutCancel(ctx), events); err != nil {
		o.logger.Error().Err(err).Str("cycle", cycleID).Int("events", len(events)).Msg("audit write failed")
	}
}

// classify derives the cycle status from what happened.
func classify(r CycleResult) (string, string) {
	switch {
	case r.KillSwitch:
		return StatusHalted, "kill switch engaged"
	case r.Admission.Halted:
		return StatusHalted, r.Admission.Reason
	case r.Proposals == 0:
		return StatusIdle, "no proposals"
	}

	var submitted, states []string
	for _, res := range r.Orders {
		states = append(states, res.Order.Symbol+":"+string(res.Order.State))
		if res.Submitted && !res.Duplicate {
			submitted = append(submitted, res.Order.Symbol)
		}
	}
	sort.Strings(states)
	if len(submitted) > 0 {
		return StatusTraded, fmt.Sprintf("%d orders submitted %v", len(submitted), states)
	}
	if len(r.Admission.ApprovedProposals) == 0 {
		return StatusNoTrade, "nothing admitted: " + r.Admission.Reason
	}
	return StatusNoTrade, fmt.Sprintf("no order submitted %v", states)
}

func lastOr(errs []string, fallback string) string {
	if len(errs) > 0 {
		return errs[len(errs)-1]
	}
	return fallback
}

// cycleEnv is the risk.Environment of the current cycle.
type cycleEnv struct {
	cooldowns  domain.CooldownState
	market     risk.MarketConditions
	kill       bool
	killReason string
}

var _ risk.Environment = (*cycleEnv)(nil)

func (e *cycleEnv) set(cd domain.CooldownState, m risk.MarketConditions, kill bool, reason string) {
	e.cooldowns = cd
	e.market = m
	e.kill = kill
	e.killReason = reason
}

func (e *cycleEnv) Cooldowns() domain.CooldownState { return e.cooldowns }

func (e *cycleEnv) Market() risk.MarketConditions { return e.market }

func (e *cycleEnv) KillSwitch() (bool, string) { return e.kill, e.killReason }
