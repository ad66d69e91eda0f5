// Package reconcile folds exchange fills, open orders and balances into the
// persisted portfolio snapshot. It is the only writer of portfolio state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/cooldown"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/fees"
	"coinbase-trader/internal/marketdata"
	"coinbase-trader/internal/observability"
	"coinbase-trader/internal/storage"
)

// ErrIncompleteSnapshot is returned when the exchange view could not be
// fetched in full. No state is written.
var ErrIncompleteSnapshot = errors.New("incomplete exchange snapshot")

const dust = 1e-9

// processedFillRetention is how far before the reconcile window processed
// fill ids are kept.
const processedFillRetention = 24 * time.Hour

// Options for creating a Reconciler.
type Options struct {
	Config    config.Config
	Connector exchange.Connector // fill, order and balance source
	Snapshots storage.SnapshotStore
	Orders    storage.OrderStore
	Market    marketdata.Provider // marks positions; optional
	Cooldown  *cooldown.Tracker   // defaults to one built from Config.Cooldown
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Reconciler rebuilds the snapshot from the exchange.
type Reconciler struct {
	cfg       config.Config
	account   string
	quoteCcy  string
	conn      exchange.Connector
	snapshots storage.SnapshotStore
	orders    storage.OrderStore
	market    marketdata.Provider
	cooldown  *cooldown.Tracker
	fees      fees.Model
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tracker := opts.Cooldown
	if tracker == nil {
		tracker = cooldown.New(opts.Config.Cooldown)
	}
	return &Reconciler{
		cfg:       opts.Config,
		account:   opts.Config.Account,
		quoteCcy:  "USD",
		conn:      opts.Connector,
		snapshots: opts.Snapshots,
		orders:    opts.Orders,
		market:    opts.Market,
		cooldown:  tracker,
		fees:      fees.New(opts.Config.Fees.MakerBps, opts.Config.Fees.TakerBps),
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// ReconciliationSummary reports what one Reconcile call changed.
type ReconciliationSummary struct {
	Account      string
	Version      int64
	FillsFetched int
	FillsApplied int
	FillsSkipped int
	RealizedPnL  float64
	OpenOrders   int
	Positions    int
	Cash         float64
	AccountValue float64
	Blocked      []string
	Unblocked    []string
	Cooldowns    []string
	At           time.Time
}

// exchangeView is everything fetched from the connector for one run.
type exchangeView struct {
	fills    []domain.Fill
	open     []exchange.Order
	balances []domain.Balance
}

// Reconcile fetches fills since the given time, open orders and balances,
// applies them to the stored snapshot and saves it. If any fetch fails or
// is incomplete it returns ErrIncompleteSnapshot and writes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, since time.Time) (sum ReconciliationSummary, err error) {
	now := r.now()
	sum = ReconciliationSummary{Account: r.account, At: now}
	defer func() {
		status := "ok"
		switch {
		case errors.Is(err, ErrIncompleteSnapshot):
			status = "incomplete"
		case err != nil:
			status = "error"
		}
		observability.RecordReconcile(status, sum.FillsApplied, now.Unix())
	}()

	// 1. Fetch the exchange view
	view, err := r.fetch(ctx, since)
	if err != nil {
		return sum, err
	}
	sum.FillsFetched = len(view.fills)
	sum.OpenOrders = len(view.open)

	// 2. Load the snapshot
	snap, err := r.load(ctx, now)
	if err != nil {
		return sum, err
	}
	next := snap.Clone()
	pf := &next.Portfolio
	pf.Roll(now)

	// 3. Apply fills
	exits := r.applyFills(ctx, &next, view.fills, &sum)
	for _, ex := range exits {
		cd := r.cooldown.RecordExit(&next.Cooldowns, ex.symbol, cooldown.Classify(ex.pnl, ex.exitReason), ex.at)
		if cd.Until.After(ex.at) {
			sum.Cooldowns = append(sum.Cooldowns, ex.symbol)
		}
	}

	// 4. Pending orders from the open-order view
	pf.PendingOrders, err = r.pending(ctx, view.open, pf)
	if err != nil {
		return sum, err
	}

	// 5. Resolve orders awaiting reconciliation
	updated, blocked, err := r.resolve(ctx)
	if err != nil {
		return sum, err
	}
	for sym := range pf.BlockedSymbols {
		if _, still := blocked[sym]; !still {
			sum.Unblocked = append(sum.Unblocked, sym)
		}
	}
	pf.BlockedSymbols = blocked

	// 6. Cash, marks and NAV
	if cash, ok := r.cashFrom(view.balances); ok {
		pf.Cash = cash
	}
	r.mark(ctx, pf)
	nav := pf.Cash
	for _, p := range pf.Positions {
		nav += p.Notional()
	}
	pf.AccountValue = nav
	if pf.DayStartValue <= 0 {
		pf.DayStartValue = nav
	}
	if pf.WeekStartValue <= 0 {
		pf.WeekStartValue = nav
	}
	pf.MarkHighWater()
	pf.UpdatedAt = now

	r.cooldown.Prune(&next.Cooldowns, now)
	if !since.IsZero() {
		cutoff := since.Add(-processedFillRetention)
		for id, at := range pf.ProcessedFills {
			if at.Before(cutoff) {
				delete(pf.ProcessedFills, id)
			}
		}
		for id, at := range pf.TradedOrders {
			if at.Before(cutoff) {
				delete(pf.TradedOrders, id)
			}
		}
		for id, ex := range pf.Exits {
			if ex.LastFill.Before(cutoff) {
				delete(pf.Exits, id)
			}
		}
	}

	// 7. Persist the snapshot, then the order updates
	next.SavedAt = now
	saved, err := r.snapshots.Save(ctx, next)
	if err != nil {
		return sum, fmt.Errorf("save snapshot: %w", err)
	}
	for _, o := range updated {
		if err := r.orders.Put(ctx, domain.ExecutionResult{Order: o, Submitted: o.ExchangeOrderID != ""}); err != nil {
			return sum, fmt.Errorf("update order %s: %w", o.IdempotencyKey, err)
		}
	}

	sum.Version = saved.Version
	sum.Positions = len(pf.Positions)
	sum.Cash = pf.Cash
	sum.AccountValue = pf.AccountValue
	for sym := range blocked {
		sum.Blocked = append(sum.Blocked, sym)
	}
	sort.Strings(sum.Blocked)
	sort.Strings(sum.Unblocked)

	observability.UpdatePortfolio(pf.AccountValue, pf.RealizedPnLToday, pf.Drawdown(), len(blocked))
	r.logger.Info().
		Int64("version", sum.Version).
		Int("fills", sum.FillsApplied).
		Int("skipped", sum.FillsSkipped).
		Int("open_orders", sum.OpenOrders).
		Float64("realized_pnl", sum.RealizedPnL).
		Float64("nav", sum.AccountValue).
		Strs("blocked", sum.Blocked).
		Strs("unblocked", sum.Unblocked).
		Msg("reconciliation complete")
	return sum, nil
}

func (r *Reconciler) fetch(ctx context.Context, since time.Time) (exchangeView, error) {
	var v exchangeView

	batch, err := r.conn.ListFills(ctx, since)
	if err != nil {
		return v, fmt.Errorf("%w: list fills: %v", ErrIncompleteSnapshot, err)
	}
	if !batch.Complete {
		return v, fmt.Errorf("%w: fill listing truncated", ErrIncompleteSnapshot)
	}
	v.fills = batch.Fills

	v.open, err = r.conn.ListOpenOrders(ctx)
	if err != nil {
		return v, fmt.Errorf("%w: list open orders: %v", ErrIncompleteSnapshot, err)
	}

	v.balances, err = r.conn.GetAccounts(ctx)
	if err != nil {
		return v, fmt.Errorf("%w: get accounts: %v", ErrIncompleteSnapshot, err)
	}
	return v, nil
}

func (r *Reconciler) load(ctx context.Context, now time.Time) (domain.Snapshot, error) {
	snap, err := r.snapshots.Load(ctx, r.account)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Snapshot{
			Account:   r.account,
			Portfolio: domain.NewPortfolioState(0, now),
			Cooldowns: domain.NewCooldownState(),
		}, nil
	}
	if err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Normalize()
	return snap, nil
}

// exit is a SELL order that closed its position. pnl covers every fill of
// the order, including fills applied in earlier runs.
type exit struct {
	symbol     string
	pnl        float64
	exitReason string
	at         time.Time
}

func (r *Reconciler) applyFills(ctx context.Context, snap *domain.Snapshot, fills []domain.Fill, sum *ReconciliationSummary) []exit {
	pf := &snap.Portfolio

	sorted := append([]domain.Fill(nil), fills...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].FillID < sorted[j].FillID
		}
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var exits []exit
	for _, f := range sorted {
		if _, done := pf.ProcessedFills[f.FillID]; done || f.FillID == "" {
			sum.FillsSkipped++
			continue
		}
		intent := r.intentFor(ctx, f.OrderID, f.ClientOrderID)
		key := orderKey(f)

		switch f.Side {
		case domain.SideBuy:
			r.applyBuy(pf, f, intent)
			r.cooldown.RecordEntry(&snap.Cooldowns, f.Symbol, f.Time)
		case domain.SideSell:
			pnl, closed := r.applySell(pf, f)
			sum.RealizedPnL += pnl
			progress := pf.Exits[key]
			progress.Symbol = f.Symbol
			progress.PnL += pnl
			progress.LastFill = f.Time
			if closed {
				delete(pf.Exits, key)
				exits = append(exits, exit{symbol: f.Symbol, pnl: progress.PnL, exitReason: intent.ExitReason, at: f.Time})
			} else {
				pf.Exits[key] = progress
			}
		default:
			r.logger.Warn().Str("fill", f.FillID).Str("side", string(f.Side)).Msg("skipping fill with unknown side")
			continue
		}

		if _, counted := pf.TradedOrders[key]; !counted {
			pf.TradedOrders[key] = f.Time
			pf.TradesToday++
			pf.TradesThisHour++
		}
		pf.ProcessedFills[f.FillID] = f.Time
		sum.FillsApplied++
	}
	return exits
}

// orderKey identifies the order a fill belongs to.
func orderKey(f domain.Fill) string {
	switch {
	case f.OrderID != "":
		return f.OrderID
	case f.ClientOrderID != "":
		return "client:" + f.ClientOrderID
	default:
		return "fill:" + f.FillID
	}
}

// intentFor looks up the order intent by exchange or client order id.
// Orders this bot did not place yield a zero intent.
func (r *Reconciler) intentFor(ctx context.Context, orderID, clientOrderID string) domain.OrderIntent {
	if r.orders == nil {
		return domain.OrderIntent{}
	}
	if orderID != "" {
		if res, err := r.orders.GetByExchangeID(ctx, orderID); err == nil {
			return res.Order
		}
	}
	if clientOrderID != "" {
		if res, err := r.orders.Get(ctx, clientOrderID); err == nil {
			return res.Order
		}
	}
	return domain.OrderIntent{}
}

func (r *Reconciler) applyBuy(pf *domain.PortfolioState, f domain.Fill, intent domain.OrderIntent) {
	fee := r.fees.FillFee(f.Price, f.Size, f.Liquidity)
	pos, ok := pf.Positions[f.Symbol]
	if !ok || pos.Size <= dust {
		pos = domain.Position{
			Symbol:     f.Symbol,
			StrategyID: intent.StrategyID,
			Theme:      r.cfg.ThemeOf(f.Symbol),
			OpenedAt:   f.Time,
		}
	}

	size := pos.Size + f.Size
	pos.AvgEntryPrice = (pos.Size*pos.AvgEntryPrice + f.Size*f.Price) / size
	pos.Size = size
	pos.EntryFees += fee
	if pos.MarkPrice <= 0 {
		pos.MarkPrice = f.Price
	}
	pf.Positions[f.Symbol] = pos
	pf.Cash -= f.Notional() + fee
}

// applySell realizes PnL against the average entry and reports whether the
// position is now closed.
func (r *Reconciler) applySell(pf *domain.PortfolioState, f domain.Fill) (float64, bool) {
	exitFee := r.fees.FillFee(f.Price, f.Size, f.Liquidity)
	pf.Cash += f.Notional() - exitFee

	pos, ok := pf.Positions[f.Symbol]
	if !ok || pos.Size <= dust {
		r.logger.Warn().
			Str("fill", f.FillID).
			Str("symbol", f.Symbol).
			Msg("sell fill without a tracked position")
		return 0, false
	}

	qty := math.Min(f.Size, pos.Size)
	entryShare := pos.EntryFees * qty / pos.Size
	pnl := (f.Price-pos.AvgEntryPrice)*qty - exitFee - entryShare

	pos.EntryFees -= entryShare
	pos.Size -= qty
	pos.RealizedPnL += pnl
	pf.RealizedPnLToday += pnl
	pf.RealizedPnLWeek += pnl

	if pos.Size <= dust {
		delete(pf.Positions, f.Symbol)
		return pnl, true
	}
	pf.Positions[f.Symbol] = pos
	return pnl, false
}

// pending converts open orders into at-risk notional. An order that cannot
// be priced fails the run; counting it as zero would understate exposure.
func (r *Reconciler) pending(ctx context.Context, open []exchange.Order, pf *domain.PortfolioState) ([]domain.PendingOrder, error) {
	out := make([]domain.PendingOrder, 0, len(open))
	for _, o := range open {
		notional, err := r.worstCase(ctx, o, pf)
		if err != nil {
			return nil, err
		}
		if notional <= dust {
			continue
		}
		out = append(out, domain.PendingOrder{
			OrderID:           o.OrderID,
			ClientOrderID:     o.ClientOrderID,
			Symbol:            o.Symbol,
			Side:              o.Side,
			StrategyID:        r.intentFor(ctx, o.OrderID, o.ClientOrderID).StrategyID,
			WorstCaseNotional: notional,
			CreatedAt:         o.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// worstCase is the quote notional an open order can still commit. A
// quote-sized BUY commits its unspent quote. Otherwise the unfilled base is
// priced at the limit, then the touch, then the position mark.
func (r *Reconciler) worstCase(ctx context.Context, o exchange.Order, pf *domain.PortfolioState) (float64, error) {
	if o.BaseSize <= dust && o.QuoteSize > 0 {
		return math.Max(o.QuoteSize-o.FilledSize*o.AvgFilledPrice, 0), nil
	}
	remaining := o.BaseSize - o.FilledSize
	if remaining <= dust {
		return 0, nil
	}

	price := o.LimitPrice
	if price <= 0 && r.market != nil {
		q, err := r.market.Quote(ctx, o.Symbol)
		if err == nil {
			price = q.Bid
			if o.Side == domain.SideBuy {
				price = q.Ask
			}
			if price <= 0 {
				price = q.Last
			}
		} else {
			r.logger.Debug().Err(err).Str("order", o.OrderID).Str("symbol", o.Symbol).Msg("no quote for open order")
		}
	}
	if price <= 0 {
		if pos, ok := pf.Positions[o.Symbol]; ok {
			price = pos.MarkPrice
		}
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: no price for open order %s on %s", ErrIncompleteSnapshot, o.OrderID, o.Symbol)
	}
	return remaining * price, nil
}

// resolve refreshes every unresolved order from the exchange and returns
// the changed intents plus the symbols that stay blocked.
func (r *Reconciler) resolve(ctx context.Context) ([]domain.OrderIntent, map[string]string, error) {
	blocked := make(map[string]string)
	if r.orders == nil {
		return nil, blocked, nil
	}
	unresolved, err := r.orders.ListUnresolved(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list unresolved orders: %w", err)
	}

	var updated []domain.OrderIntent
	for _, o := range unresolved {
		if o.Mode == domain.ModeDryRun {
			continue
		}
		before := o.Clone()

		var (
			order exchange.Order
			err   error
		)
		if o.ExchangeOrderID != "" {
			order, err = r.conn.GetOrder(ctx, o.ExchangeOrderID)
		} else {
			order, err = r.conn.FindOrder(ctx, o.Symbol, o.IdempotencyKey)
		}

		switch {
		case errors.Is(err, exchange.ErrOrderNotFound):
			if o.RequiresReconciliation {
				o.RequiresReconciliation = false
				o.Reason = appendReason(o.Reason, "confirmed absent on exchange")
			}
			if !o.State.Terminal() {
				_ = o.Transition(domain.StateCanceled, "not found on exchange", r.now())
			}
		case err != nil:
			r.logger.Warn().Err(err).Str("key", o.IdempotencyKey).Msg("order still unresolved")
		default:
			r.refresh(&o, order)
		}

		if o.RequiresReconciliation {
			blocked[o.Symbol] = o.IdempotencyKey
		}
		if changed(before, o) {
			updated = append(updated, o)
		}
	}
	return updated, blocked, nil
}

// refresh folds the exchange view of an order into its intent. Terminal
// intents keep their state; only the fill and the reconciliation flag move.
func (r *Reconciler) refresh(o *domain.OrderIntent, order exchange.Order) {
	now := r.now()
	if o.ExchangeOrderID == "" {
		o.ExchangeOrderID = order.OrderID
	}
	if order.FilledSize > o.FilledBase {
		liq := domain.LiquidityMaker
		if o.Type == domain.OrderTypeMarket {
			liq = domain.LiquidityTaker
		}
		o.FilledBase = order.FilledSize
		o.AvgFillPrice = order.AvgFilledPrice
		o.Fees = r.fees.FillFee(o.AvgFillPrice, o.FilledBase, liq)
	}
	if o.RequiresReconciliation {
		o.RequiresReconciliation = false
		o.Reason = appendReason(o.Reason, fmt.Sprintf("reconciled: exchange reports %s, filled %.8g", order.Status, order.FilledSize))
		o.UpdatedAt = now
	}
	if o.State.Terminal() {
		return
	}

	if o.State == domain.StateNew {
		_ = o.Transition(domain.StateOpen, "found on exchange", now)
	}
	frac := 0.0
	if o.BaseSize > 0 {
		frac = o.FilledBase / o.BaseSize
	}
	switch {
	case order.Status == exchange.StatusFilled:
		_ = o.Transition(domain.StateFilled, "filled", now)
	case order.Status.Done() && frac <= 0:
		_ = o.Transition(domain.StateCanceled, "exchange reported "+string(order.Status), now)
	case order.Status.Done() && frac < r.cfg.Execution.MinFillFraction:
		_ = o.Transition(domain.StateExpired, fmt.Sprintf("partial fill %.0f%% below minimum", 100*frac), now)
	case order.Status.Done():
		_ = o.Transition(domain.StateCanceled, fmt.Sprintf("kept partial fill %.0f%%", 100*frac), now)
	case frac > 0 && o.State == domain.StateOpen:
		_ = o.Transition(domain.StatePartialFill, fmt.Sprintf("filled %.0f%%", 100*frac), now)
	}
}

func (r *Reconciler) cashFrom(balances []domain.Balance) (float64, bool) {
	for _, b := range balances {
		if strings.EqualFold(b.Currency, r.quoteCcy) {
			return b.Available + b.Hold, true
		}
	}
	return 0, false
}

func (r *Reconciler) mark(ctx context.Context, pf *domain.PortfolioState) {
	if r.market == nil {
		return
	}
	for sym, p := range pf.Positions {
		q, err := r.market.Quote(ctx, sym)
		if err != nil {
			r.logger.Debug().Err(err).Str("symbol", sym).Msg("keeping previous mark")
			continue
		}
		if mid := q.Mid(); mid > 0 {
			p.MarkPrice = mid
		} else if q.Last > 0 {
			p.MarkPrice = q.Last
		}
		pf.Positions[sym] = p
	}
}

func appendReason(reason, more string) string {
	if reason == "" {
		return more
	}
	return reason + "; " + more
}

func changed(a, b domain.OrderIntent) bool {
	return a.State != b.State ||
		a.RequiresReconciliation != b.RequiresReconciliation ||
		a.FilledBase != b.FilledBase ||
		a.ExchangeOrderID != b.ExchangeOrderID ||
		a.Reason != b.Reason
}
