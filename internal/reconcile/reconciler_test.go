package reconcile

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/exchange/stub"
	"coinbase-trader/internal/marketdata"
	"coinbase-trader/internal/storage"
	"coinbase-trader/internal/storage/memory"
)

// Monday afternoon, UTC.
var t0 = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

type fixture struct {
	rec       *Reconciler
	conn      *stub.Connector
	snapshots *memory.SnapshotStore
	orders    *memory.OrderStore
	market    *marketdata.Static
}

func newFixture(t *testing.T, seed *domain.Snapshot) *fixture {
	t.Helper()
	f := &fixture{
		conn:      stub.New(),
		snapshots: memory.NewSnapshotStore(),
		orders:    memory.NewOrderStore(),
		market:    marketdata.NewStatic(),
	}
	if seed != nil {
		_, err := f.snapshots.Save(context.Background(), *seed)
		require.NoError(t, err)
	}
	f.rec = New(Options{
		Config:    config.Default(),
		Connector: f.conn,
		Snapshots: f.snapshots,
		Orders:    f.orders,
		Market:    f.market,
		Now:       func() time.Time { return t0 },
	})
	return f
}

func seedSnapshot(cash float64) *domain.Snapshot {
	return &domain.Snapshot{
		Account:   "default",
		Portfolio: domain.NewPortfolioState(cash, t0),
		Cooldowns: domain.NewCooldownState(),
	}
}

func fill(id, orderID string, side domain.Side, price, size float64, liq domain.Liquidity, at time.Time) domain.Fill {
	return domain.Fill{
		FillID:    id,
		OrderID:   orderID,
		Symbol:    "SOL-USD",
		Side:      side,
		Price:     price,
		Size:      size,
		Liquidity: liq,
		Time:      at,
	}
}

func (f *fixture) load(t *testing.T) domain.Snapshot {
	t.Helper()
	snap, err := f.snapshots.Load(context.Background(), "default")
	require.NoError(t, err)
	return snap
}

func TestReconcile_RealizesPnLWithSharedFeeModel(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	require.NoError(t, f.orders.Put(context.Background(), domain.ExecutionResult{Order: domain.OrderIntent{
		IdempotencyKey:  "k3",
		ExchangeOrderID: "o3",
		Symbol:          "SOL-USD",
		Side:            domain.SideSell,
		ExitReason:      domain.ExitReasonStopLoss,
		State:           domain.StateFilled,
	}}))
	f.conn.Fills = []domain.Fill{
		fill("f1", "o1", domain.SideBuy, 100, 1, domain.LiquidityMaker, t0.Add(-30*time.Minute)),
		fill("f2", "o2", domain.SideSell, 110, 0.5, domain.LiquidityTaker, t0.Add(-20*time.Minute)),
		fill("f3", "o3", domain.SideSell, 90, 0.5, domain.LiquidityMaker, t0.Add(-10*time.Minute)),
	}

	sum, err := f.rec.Reconcile(context.Background(), t0.Add(-time.Hour))
	require.NoError(t, err)

	// f2: 0.5*(110-100) - 0.33 exit fee - 0.20 entry share = 4.47
	// f3: 0.5*(90-100)  - 0.18 exit fee - 0.20 entry share = -5.38
	assert.Equal(t, 3, sum.FillsApplied)
	assert.InDelta(t, -0.91, sum.RealizedPnL, 1e-9)
	assert.Equal(t, int64(2), sum.Version)
	assert.Equal(t, []string{"SOL-USD"}, sum.Cooldowns)

	snap := f.load(t)
	pf := snap.Portfolio
	assert.Empty(t, pf.Positions)
	assert.InDelta(t, -0.91, pf.RealizedPnLToday, 1e-9)
	assert.InDelta(t, -0.91, pf.RealizedPnLWeek, 1e-9)
	// Gross round trip minus every fee through the same model.
	assert.InDelta(t, 1000+(55+45-100)-(0.40+0.33+0.18), pf.Cash, 1e-9)
	assert.InDelta(t, pf.Cash, pf.AccountValue, 1e-9)
	assert.Equal(t, 3, pf.TradesToday)
	assert.Len(t, pf.ProcessedFills, 3)

	cd, ok := snap.Cooldowns.Active("SOL-USD", t0)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeStopLoss, cd.Outcome)
	assert.Equal(t, t0.Add(-10*time.Minute).Add(120*time.Minute), cd.Until)
	// Only the closing order counts as an exit.
	assert.Equal(t, 1, snap.Cooldowns.ConsecutiveLosses)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	f.conn.Fills = []domain.Fill{
		fill("f1", "o1", domain.SideBuy, 100, 1, domain.LiquidityMaker, t0.Add(-30*time.Minute)),
		fill("f2", "o2", domain.SideSell, 110, 0.4, domain.LiquidityTaker, t0.Add(-20*time.Minute)),
	}
	ctx := context.Background()

	first, err := f.rec.Reconcile(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	before := f.load(t).Portfolio

	second, err := f.rec.Reconcile(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	after := f.load(t).Portfolio

	assert.Equal(t, 2, first.FillsApplied)
	assert.Equal(t, 0, second.FillsApplied)
	assert.Equal(t, 2, second.FillsSkipped)
	assert.Equal(t, before.Positions, after.Positions)
	assert.Equal(t, before.Cash, after.Cash)
	assert.Equal(t, before.RealizedPnLToday, after.RealizedPnLToday)
	assert.Equal(t, before.TradesToday, after.TradesToday)
}

func TestReconcile_WeightedAverageEntry(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	f.market.SetQuote(domain.Quote{Symbol: "SOL-USD", Bid: 119, Ask: 121, Time: t0})
	f.conn.Fills = []domain.Fill{
		fill("f1", "o1", domain.SideBuy, 100, 1, domain.LiquidityMaker, t0.Add(-30*time.Minute)),
		fill("f2", "o2", domain.SideBuy, 110, 1, domain.LiquidityMaker, t0.Add(-20*time.Minute)),
	}

	_, err := f.rec.Reconcile(context.Background(), time.Time{})
	require.NoError(t, err)

	pf := f.load(t).Portfolio
	pos := pf.Positions["SOL-USD"]
	assert.InDelta(t, 2, pos.Size, 1e-12)
	assert.InDelta(t, 105, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 0.84, pos.EntryFees, 1e-9)
	assert.InDelta(t, 120, pos.MarkPrice, 1e-9)
	assert.Equal(t, "SOL-USD", pos.Theme)
	assert.Equal(t, t0.Add(-30*time.Minute), pos.OpenedAt)

	cash := 1000 - 210 - 0.84
	assert.InDelta(t, cash, pf.Cash, 1e-9)
	assert.InDelta(t, cash+240, pf.AccountValue, 1e-9)
	assert.InDelta(t, cash+240, pf.HighWaterMark, 1e-9)
}

func TestReconcile_IncompleteWritesNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *stub.Connector)
	}{
		{name: "fill listing fails", setup: func(c *stub.Connector) {
			c.ListFillsErr = &exchange.APIError{Op: "list fills", Status: http.StatusBadGateway}
		}},
		{name: "fill listing truncated", setup: func(c *stub.Connector) { c.Incomplete = true }},
		{name: "open orders fail", setup: func(c *stub.Connector) {
			c.OpenOrdersErr = &exchange.APIError{Op: "list orders", Status: http.StatusServiceUnavailable}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, seedSnapshot(1000))
			f.conn.Fills = []domain.Fill{
				fill("f1", "o1", domain.SideBuy, 100, 1, domain.LiquidityMaker, t0.Add(-time.Minute)),
			}
			tt.setup(f.conn)

			_, err := f.rec.Reconcile(context.Background(), time.Time{})
			require.ErrorIs(t, err, ErrIncompleteSnapshot)

			snap := f.load(t)
			assert.Equal(t, int64(1), snap.Version)
			assert.Empty(t, snap.Portfolio.Positions)
			assert.Empty(t, snap.Portfolio.ProcessedFills)
		})
	}
}

func TestReconcile_PendingOrdersFromOpenOrders(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	f.conn.AddOrder(exchange.Order{
		OrderID: "o9", ClientOrderID: "k9", Symbol: "SOL-USD", Side: domain.SideBuy,
		Status: exchange.StatusOpen, BaseSize: 2, FilledSize: 0.5, LimitPrice: 100,
	})
	f.conn.AddOrder(exchange.Order{
		OrderID: "o10", Symbol: "SOL-USD", Side: domain.SideBuy,
		Status: exchange.StatusFilled, BaseSize: 1, FilledSize: 1, LimitPrice: 100,
	})

	sum, err := f.rec.Reconcile(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OpenOrders)

	pending := f.load(t).Portfolio.PendingOrders
	require.Len(t, pending, 1)
	assert.Equal(t, "o9", pending[0].OrderID)
	assert.InDelta(t, 150, pending[0].WorstCaseNotional, 1e-9)
}

func TestReconcile_PricesMarketBuysWithoutLimit(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	f.market.SetQuote(domain.Quote{Symbol: "SOL-USD", Bid: 99, Ask: 100, Time: t0})
	f.market.SetQuote(domain.Quote{Symbol: "ETH-USD", Bid: 1999, Ask: 2000, Time: t0})
	f.conn.AddOrder(exchange.Order{
		OrderID: "o1", Symbol: "SOL-USD", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Status: exchange.StatusOpen, BaseSize: 5,
	})
	f.conn.AddOrder(exchange.Order{
		OrderID: "o2", Symbol: "ETH-USD", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Status: exchange.StatusOpen, QuoteSize: 250, FilledSize: 0.05, AvgFilledPrice: 2000,
	})

	_, err := f.rec.Reconcile(context.Background(), time.Time{})
	require.NoError(t, err)

	pf := f.load(t).Portfolio
	require.Len(t, pf.PendingOrders, 2)
	// Base-sized: remaining base at the ask.
	assert.InDelta(t, 500, pf.PendingOrders[0].WorstCaseNotional, 1e-9)
	assert.InDelta(t, 500, pf.SymbolExposure("SOL-USD"), 1e-9)
	// Quote-sized: unspent quote, whatever the price.
	assert.InDelta(t, 150, pf.PendingOrders[1].WorstCaseNotional, 1e-9)
	assert.InDelta(t, 650, pf.TotalExposure(), 1e-9)
}

func TestReconcile_UnpricedOpenOrderWritesNothing(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	f.conn.AddOrder(exchange.Order{
		OrderID: "o1", Symbol: "SOL-USD", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Status: exchange.StatusOpen, BaseSize: 5,
	})

	_, err := f.rec.Reconcile(context.Background(), time.Time{})
	require.ErrorIs(t, err, ErrIncompleteSnapshot)
	assert.Equal(t, int64(1), f.load(t).Version)
}

func TestReconcile_PendingOrdersCarryStrategy(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	ctx := context.Background()
	require.NoError(t, f.orders.Put(ctx, domain.ExecutionResult{Order: domain.OrderIntent{
		IdempotencyKey: "k9",
		StrategyID:     "momentum",
		Symbol:         "SOL-USD",
		Side:           domain.SideBuy,
		State:          domain.StateOpen,
	}}))
	f.conn.AddOrder(exchange.Order{
		OrderID: "o9", ClientOrderID: "k9", Symbol: "SOL-USD", Side: domain.SideBuy,
		Status: exchange.StatusOpen, BaseSize: 2, LimitPrice: 100,
	})
	f.conn.AddOrder(exchange.Order{
		OrderID: "o10", ClientOrderID: "manual", Symbol: "SOL-USD", Side: domain.SideBuy,
		Status: exchange.StatusOpen, BaseSize: 1, LimitPrice: 100,
	})

	_, err := f.rec.Reconcile(ctx, time.Time{})
	require.NoError(t, err)

	pf := f.load(t).Portfolio
	require.Len(t, pf.PendingOrders, 2)
	assert.Equal(t, "momentum", pf.PendingOrders[1].StrategyID)
	assert.Empty(t, pf.PendingOrders[0].StrategyID)
	assert.InDelta(t, 200, pf.StrategyExposure("momentum"), 1e-9)
}

func TestReconcile_ExitOutcomeSpansRuns(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	ctx := context.Background()
	f.conn.Fills = []domain.Fill{
		fill("f1", "o1", domain.SideBuy, 100, 1, domain.LiquidityMaker, t0.Add(-30*time.Minute)),
		fill("f2", "o2", domain.SideSell, 80, 0.5, domain.LiquidityMaker, t0.Add(-20*time.Minute)),
	}
	sum, err := f.rec.Reconcile(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sum.Cooldowns)
	assert.Equal(t, 2, f.load(t).Portfolio.TradesToday)

	// The rest of o2 fills at a small gain; the order as a whole still lost.
	f.conn.Fills = append(f.conn.Fills,
		fill("f3", "o2", domain.SideSell, 102, 0.5, domain.LiquidityMaker, t0.Add(-10*time.Minute)))
	sum, err = f.rec.Reconcile(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FillsApplied)
	assert.Greater(t, sum.RealizedPnL, 0.0)
	assert.Equal(t, []string{"SOL-USD"}, sum.Cooldowns)

	snap := f.load(t)
	cd, ok := snap.Cooldowns.Active("SOL-USD", t0)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeLoss, cd.Outcome)
	assert.Equal(t, 1, snap.Cooldowns.ConsecutiveLosses)
	assert.Empty(t, snap.Portfolio.Exits)
	// o2 counted once even though its fills spanned two runs.
	assert.Equal(t, 2, snap.Portfolio.TradesToday)
	assert.Equal(t, 2, snap.Portfolio.TradesThisHour)
}

func ambiguous(key, symbol, orderID string) domain.ExecutionResult {
	return domain.ExecutionResult{Order: domain.OrderIntent{
		IdempotencyKey:         key,
		Symbol:                 symbol,
		Side:                   domain.SideBuy,
		Mode:                   domain.ModeLive,
		BaseSize:               1,
		ExchangeOrderID:        orderID,
		State:                  domain.StateFailed,
		Reason:                 "outcome unknown after 3 attempts",
		RequiresReconciliation: true,
		CreatedAt:              t0.Add(-time.Minute),
	}}
}

func TestReconcile_ClearsResolvedBlocks(t *testing.T) {
	seed := seedSnapshot(1000)
	seed.Portfolio.BlockedSymbols = map[string]string{"ETH-USD": "kA", "BTC-USD": "kB"}
	f := newFixture(t, seed)
	ctx := context.Background()

	// kA never reached the exchange; kB did and filled.
	require.NoError(t, f.orders.Put(ctx, ambiguous("kA", "ETH-USD", "")))
	require.NoError(t, f.orders.Put(ctx, ambiguous("kB", "BTC-USD", "")))
	f.conn.AddOrder(exchange.Order{
		OrderID: "x1", ClientOrderID: "kB", Symbol: "BTC-USD", Side: domain.SideBuy,
		Status: exchange.StatusFilled, BaseSize: 0.001, FilledSize: 0.001, AvgFilledPrice: 50000,
	})

	sum, err := f.rec.Reconcile(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, sum.Blocked)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, sum.Unblocked)
	assert.Empty(t, f.load(t).Portfolio.BlockedSymbols)

	unresolved, err := f.orders.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	a, err := f.orders.Get(ctx, "kA")
	require.NoError(t, err)
	assert.Contains(t, a.Order.Reason, "confirmed absent")
	assert.Equal(t, domain.StateFailed, a.State())

	b, err := f.orders.Get(ctx, "kB")
	require.NoError(t, err)
	assert.Equal(t, "x1", b.Order.ExchangeOrderID)
	assert.InDelta(t, 0.001, b.Order.FilledBase, 1e-12)
	assert.Contains(t, b.Order.Reason, "reconciled: exchange reports FILLED")
}

func TestReconcile_KeepsBlockWhileUnresolvable(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	ctx := context.Background()
	require.NoError(t, f.orders.Put(ctx, ambiguous("kC", "SOL-USD", "")))
	f.conn.FindErr = &exchange.APIError{Op: "find", Status: http.StatusServiceUnavailable}

	sum, err := f.rec.Reconcile(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"SOL-USD"}, sum.Blocked)
	assert.Equal(t, map[string]string{"SOL-USD": "kC"}, f.load(t).Portfolio.BlockedSymbols)
}

func TestReconcile_SettlesLingeringOrder(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	ctx := context.Background()

	open := ambiguous("kD", "SOL-USD", "o5")
	open.Order.State = domain.StateOpen
	open.Order.Type = domain.OrderTypePostOnlyLimit
	require.NoError(t, f.orders.Put(ctx, open))
	f.conn.AddOrder(exchange.Order{
		OrderID: "o5", ClientOrderID: "kD", Symbol: "SOL-USD", Side: domain.SideBuy,
		Status: exchange.StatusCancelled, BaseSize: 1, FilledSize: 0.5, AvgFilledPrice: 100,
	})

	_, err := f.rec.Reconcile(ctx, time.Time{})
	require.NoError(t, err)

	got, err := f.orders.Get(ctx, "kD")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCanceled, got.State())
	assert.False(t, got.Order.RequiresReconciliation)
	assert.Contains(t, got.Order.Reason, "kept partial fill 50%")
	assert.InDelta(t, 0.2, got.Order.Fees, 1e-9)
}

func TestReconcile_FirstRunInitialisesSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.conn.Balances = []domain.Balance{{Currency: "USD", Available: 450, Hold: 50}}

	sum, err := f.rec.Reconcile(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Version)

	pf := f.load(t).Portfolio
	assert.InDelta(t, 500, pf.Cash, 1e-9)
	assert.InDelta(t, 500, pf.AccountValue, 1e-9)
	assert.InDelta(t, 500, pf.DayStartValue, 1e-9)
	assert.InDelta(t, 500, pf.WeekStartValue, 1e-9)
	assert.InDelta(t, 500, pf.HighWaterMark, 1e-9)
}

func TestReconcile_RollsDailyCounters(t *testing.T) {
	seed := seedSnapshot(1000)
	seed.Portfolio.Roll(t0.Add(-24 * time.Hour))
	seed.Portfolio.RealizedPnLToday = -20
	seed.Portfolio.TradesToday = 5
	seed.Portfolio.AccountValue = 980
	f := newFixture(t, seed)

	_, err := f.rec.Reconcile(context.Background(), time.Time{})
	require.NoError(t, err)

	pf := f.load(t).Portfolio
	assert.Zero(t, pf.RealizedPnLToday)
	assert.Zero(t, pf.TradesToday)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), pf.DayStart)
	assert.InDelta(t, 980, pf.DayStartValue, 1e-9)
}

func TestReconcile_VersionConflict(t *testing.T) {
	f := newFixture(t, seedSnapshot(1000))
	ctx := context.Background()

	// Another writer saves between our load and save.
	f.rec.snapshots = racingStore{SnapshotStore: f.snapshots}

	_, err := f.rec.Reconcile(ctx, time.Time{})
	require.ErrorIs(t, err, storage.ErrVersionConflict)
}

type racingStore struct {
	*memory.SnapshotStore
}

func (s racingStore) Save(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	cur, err := s.SnapshotStore.Load(ctx, snap.Account)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if _, err := s.SnapshotStore.Save(ctx, cur); err != nil {
		return domain.Snapshot{}, err
	}
	return s.SnapshotStore.Save(ctx, snap)
}
