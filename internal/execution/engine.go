// Package execution turns admitted proposals into orders: it previews each
// request against market data, sizes it to the product's increments, routes
// it through the mode's submitter and tracks it to a terminal state.
package execution

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/alert"
	"coinbase-trader/internal/config"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/fees"
	"coinbase-trader/internal/idhash"
	"coinbase-trader/internal/marketdata"
	"coinbase-trader/internal/observability"
	"coinbase-trader/internal/storage"
)

// Engine errors.
var (
	// ErrModeMismatch is returned when Execute is called with a mode other
	// than the one the engine was built for.
	ErrModeMismatch = errors.New("execution mode mismatch")

	// ErrReadOnlyConnector is returned when LIVE execution is configured
	// with a read-only connector.
	ErrReadOnlyConnector = errors.New("live execution requires a writable connector")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid execution request")

	// ErrInternal is returned when handling an order panicked.
	ErrInternal = errors.New("internal execution error")
)

// Options for creating an Engine.
type Options struct {
	Config config.Config
	Mode   domain.Mode // defaults to Config.Mode

	Market marketdata.Provider

	// Connector routes LIVE orders; Paper routes PAPER orders.
	Connector exchange.Connector
	Paper     exchange.Connector

	Orders   storage.OrderStore
	Retry    *exchange.RetryPolicy // defaults to Config.Exchange.Retry
	Notifier alert.Notifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Engine executes orders in a single mode.
type Engine struct {
	cfg      config.Config
	exec     config.Execution
	fees     fees.Model
	mode     domain.Mode
	market   marketdata.Provider
	conn     exchange.Connector // nil in DRY_RUN
	sub      submitter
	orders   storage.OrderStore
	retry    exchange.RetryPolicy
	notifier alert.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// New validates the wiring for the configured mode and creates an Engine.
func New(opts Options) (*Engine, error) {
	mode := opts.Mode
	if mode == "" {
		mode = opts.Config.Mode
	}
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if opts.Market == nil {
		return nil, fmt.Errorf("execution: market data provider is required")
	}
	if opts.Orders == nil {
		return nil, fmt.Errorf("execution: order store is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	retry := exchange.NewRetryPolicy(opts.Config.Exchange.Retry)
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	logger := opts.Logger
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			observability.RecordRetry("place_order")
			logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying order placement")
		}
	}

	e := &Engine{
		cfg:      opts.Config,
		exec:     opts.Config.Execution,
		fees:     fees.New(opts.Config.Fees.MakerBps, opts.Config.Fees.TakerBps),
		mode:     mode,
		market:   opts.Market,
		orders:   opts.Orders,
		retry:    retry,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
	}

	switch mode {
	case domain.ModeDryRun:
		e.sub = dryRun{now: e.now}
	case domain.ModePaper:
		if opts.Paper == nil {
			return nil, fmt.Errorf("execution: PAPER mode requires a paper connector")
		}
		e.conn = opts.Paper
		e.sub = &routed{e: e, conn: opts.Paper}
	case domain.ModeLive:
		if opts.Connector == nil {
			return nil, fmt.Errorf("execution: LIVE mode requires a connector")
		}
		if opts.Connector.ReadOnly() {
			return nil, ErrReadOnlyConnector
		}
		e.conn = opts.Connector
		e.sub = &routed{e: e, conn: opts.Connector}
	}
	return e, nil
}

// Mode returns the engine's mode.
func (e *Engine) Mode() domain.Mode {
	return e.mode
}

// Fees returns the fee model shared with reconciliation.
func (e *Engine) Fees() fees.Model {
	return e.fees
}

// OrderOption annotates a request.
type OrderOption func(*orderOptions)

type orderOptions struct {
	strategyID string
	exitReason string
	tier       domain.Tier
	at         time.Time
}

// WithStrategy attributes the order to a strategy.
func WithStrategy(id string) OrderOption {
	return func(o *orderOptions) { o.strategyID = id }
}

// WithExitReason records why a SELL closes a position.
func WithExitReason(reason string) OrderOption {
	return func(o *orderOptions) { o.exitReason = reason }
}

// WithTier overrides the configured tier for the symbol.
func WithTier(t domain.Tier) OrderOption {
	return func(o *orderOptions) { o.tier = t }
}

// WithTimestamp sets the decision time the idempotency key is derived from.
func WithTimestamp(t time.Time) OrderOption {
	return func(o *orderOptions) { o.at = t }
}

// Execute places one order and tracks it to a terminal state. A request
// whose idempotency key is already stored returns the stored result without
// touching the network.
//
// Policy and data-quality failures are reported as REJECTED results with a
// nil error. An error is returned for wiring faults, a failed store write
// or a panic while handling the order.
func (e *Engine) Execute(ctx context.Context, symbol string, side domain.Side, sizeQuote float64, mode domain.Mode, opts ...OrderOption) (res domain.ExecutionResult, err error) {
	if mode != e.mode {
		return res, fmt.Errorf("%w: engine runs %s, request is %s", ErrModeMismatch, e.mode, mode)
	}
	if e.mode == domain.ModeLive && e.conn.ReadOnly() {
		return res, ErrReadOnlyConnector
	}
	if symbol == "" || !side.Valid() || sizeQuote <= 0 {
		return res, fmt.Errorf("%w: symbol=%q side=%q size=%v", ErrInvalidRequest, symbol, side, sizeQuote)
	}

	o := orderOptions{at: e.now(), tier: e.cfg.TierOf(symbol)}
	for _, opt := range opts {
		opt(&o)
	}

	// 1. Idempotency key
	key := idhash.ComputeIdempotencyKey(symbol, string(side), sizeQuote, o.at)

	// 2. Known key: return the stored outcome
	if stored, ok, err := e.lookup(ctx, key); err != nil {
		return res, err
	} else if ok {
		e.logger.Info().
			Str("key", key).
			Str("symbol", symbol).
			Str("state", string(stored.Order.State)).
			Msg("duplicate order request; returning stored result")
		stored.Duplicate = true
		return stored, nil
	}

	started := time.Now()
	intent := domain.NewOrderIntent(key, symbol, side, sizeQuote, e.now())
	intent.Mode = e.mode
	intent.Tier = o.tier
	intent.StrategyID = o.strategyID
	intent.ExitReason = o.exitReason
	intent.Type = e.exec.OrderType

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("key", key).
				Msg("order handling panicked")
			failOnPanic(intent, fmt.Sprintf("internal error: %v", r), e.now())
			res = domain.ExecutionResult{Order: intent.Clone(), Submitted: intent.ExchangeOrderID != ""}
			_ = e.orders.Put(context.WithoutCancel(ctx), res)
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	// 3. Preview
	pv := e.PreviewOrder(ctx, symbol, side, sizeQuote)
	if !pv.OK {
		observability.RecordPreviewRejection(pv.Check)
		return e.reject(intent, pv.Reason, started), nil
	}

	// 4. Size to product constraints and check expected slippage
	p, reason := e.plan(ctx, intent, pv.GrossQuote, intent.Type)
	if reason != "" {
		return e.reject(intent, reason, started), nil
	}

	// 5. Submit and track
	res, err = e.run(ctx, intent, p)
	e.finish(ctx, res, started)
	return res, err
}

// run submits a planned order and, for a maker order that timed out with
// nothing filled, the taker fallback.
func (e *Engine) run(ctx context.Context, intent *domain.OrderIntent, p plan) (domain.ExecutionResult, error) {
	submitted := e.sub.submit(ctx, intent, p)
	res := domain.ExecutionResult{Order: intent.Clone(), Submitted: submitted}

	if !e.wantsFallback(intent) {
		if err := e.orders.Put(ctx, res); err != nil {
			return res, fmt.Errorf("persist order %s: %w", intent.IdempotencyKey, err)
		}
		return res, nil
	}

	child := domain.NewOrderIntent(idhash.DeriveKey(intent.IdempotencyKey, "taker"), intent.Symbol, intent.Side, intent.RequestedQuote, e.now())
	child.Mode = intent.Mode
	child.Tier = intent.Tier
	child.StrategyID = intent.StrategyID
	child.ExitReason = intent.ExitReason
	child.Type = domain.OrderTypeMarket
	child.ParentKey = intent.IdempotencyKey
	intent.FallbackKey = child.IdempotencyKey

	res.Order = intent.Clone()
	if err := e.orders.Put(ctx, res); err != nil {
		return res, fmt.Errorf("persist order %s: %w", intent.IdempotencyKey, err)
	}

	e.logger.Info().
		Str("key", intent.IdempotencyKey).
		Str("fallback", child.IdempotencyKey).
		Str("symbol", intent.Symbol).
		Msg("maker order unfilled at TTL; falling back to taker")

	gross := intent.RequestedQuote
	if min := e.exec.MinNotional; min > 0 && e.fees.Net(gross, domain.LiquidityTaker) < min {
		gross = e.fees.GrossForNet(min, domain.LiquidityTaker)
	}
	cp, reason := e.plan(ctx, child, gross, domain.OrderTypeMarket)
	if reason != "" {
		_ = child.Transition(domain.StateRejected, reason, e.now())
		out := domain.ExecutionResult{Order: child.Clone()}
		if err := e.orders.Put(ctx, out); err != nil {
			return out, fmt.Errorf("persist order %s: %w", child.IdempotencyKey, err)
		}
		return out, nil
	}

	submitted = e.sub.submit(ctx, child, cp)
	out := domain.ExecutionResult{Order: child.Clone(), Submitted: submitted}
	if err := e.orders.Put(ctx, out); err != nil {
		return out, fmt.Errorf("persist order %s: %w", child.IdempotencyKey, err)
	}
	return out, nil
}

func (e *Engine) wantsFallback(o *domain.OrderIntent) bool {
	return e.exec.TakerFallback &&
		o.Type == domain.OrderTypePostOnlyLimit &&
		o.ParentKey == "" &&
		o.State == domain.StateCanceled &&
		o.FilledBase == 0 &&
		!o.RequiresReconciliation
}

// lookup returns the stored result for key, following a taker fallback to
// the order that replaced it.
func (e *Engine) lookup(ctx context.Context, key string) (domain.ExecutionResult, bool, error) {
	res, err := e.orders.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return res, false, nil
	}
	if err != nil {
		return res, false, fmt.Errorf("load order %s: %w", key, err)
	}
	if next := res.Order.FallbackKey; next != "" {
		child, err := e.orders.Get(ctx, next)
		if err == nil {
			return child, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return res, false, fmt.Errorf("load order %s: %w", next, err)
		}
	}
	return res, true, nil
}

func (e *Engine) reject(o *domain.OrderIntent, reason string, started time.Time) domain.ExecutionResult {
	_ = o.Transition(domain.StateRejected, reason, e.now())
	e.logger.Info().
		Str("key", o.IdempotencyKey).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Float64("quote", o.RequestedQuote).
		Msg("order rejected: " + reason)
	observability.RecordOrder(string(e.mode), string(o.State), time.Since(started).Seconds())
	return domain.ExecutionResult{Order: o.Clone()}
}

// finish records metrics and raises alerts for a completed run.
func (e *Engine) finish(ctx context.Context, res domain.ExecutionResult, started time.Time) {
	o := res.Order
	observability.RecordOrder(string(e.mode), string(o.State), time.Since(started).Seconds())

	ev := e.logger.Info()
	if o.State == domain.StateFailed || o.RequiresReconciliation {
		ev = e.logger.Warn()
	}
	ev.Str("key", o.IdempotencyKey).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Str("type", string(o.Type)).
		Str("state", string(o.State)).
		Str("order_id", o.ExchangeOrderID).
		Float64("filled_base", o.FilledBase).
		Float64("avg_price", o.AvgFillPrice).
		Float64("fees", o.Fees).
		Float64("slippage_bps", o.SlippageBps).
		Bool("reconcile", o.RequiresReconciliation).
		Msg(o.Reason)

	if o.FilledBase > 0 && o.DecisionMid > 0 {
		observability.RecordSlippage(string(o.Tier), o.SlippageBps)
		if budget := e.cfg.SlippageBudgetBps(o.Tier); o.SlippageBps > budget {
			e.notify(ctx, alert.SeverityWarning, "slippage budget breached", fmt.Sprintf(
				"%s %s filled at %.8g, %.1fbps from decision mid (budget %.1fbps)",
				o.Side, o.Symbol, o.AvgFillPrice, o.SlippageBps, budget), o)
		}
	}
}

func (e *Engine) notify(ctx context.Context, sev alert.Severity, title, msg string, o domain.OrderIntent) {
	fields := map[string]string{
		"symbol": o.Symbol,
		"side":   string(o.Side),
		"key":    o.IdempotencyKey,
		"mode":   string(o.Mode),
	}
	if o.ExchangeOrderID != "" {
		fields["order_id"] = o.ExchangeOrderID
	}
	if err := e.notifier.Notify(ctx, sev, title, msg, fields); err != nil {
		e.logger.Error().Err(err).Str("title", title).Msg("alert failed")
	}
}

// failOnPanic moves an intent to FAILED when the lifecycle allows it. An
// order that already reached the exchange is flagged for reconciliation.
func failOnPanic(o *domain.OrderIntent, reason string, at time.Time) {
	if o.ExchangeOrderID != "" {
		o.RequiresReconciliation = true
		o.Reason = reason
		return
	}
	if err := o.Transition(domain.StateFailed, reason, at); err != nil {
		o.RequiresReconciliation = true
		o.Reason = reason
	}
}
