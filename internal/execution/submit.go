package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinbase-trader/internal/alert"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/observability"
)

// cancelTimeout bounds the cancel issued after the context is done.
const cancelTimeout = 3 * time.Second

// submitter carries a planned order from NEW to a terminal state, or to a
// state flagged for reconciliation. It reports whether the order reached
// the exchange or the paper ledger.
type submitter interface {
	submit(ctx context.Context, o *domain.OrderIntent, p plan) bool
}

// dryRun logs the order and never sends it.
type dryRun struct {
	now func() time.Time
}

func (d dryRun) submit(_ context.Context, o *domain.OrderIntent, _ plan) bool {
	now := d.now()
	_ = o.Transition(domain.StateOpen, "dry run: order not sent", now)
	_ = o.Transition(domain.StateCanceled, "dry run: order not sent", now)
	return false
}

// routed sends orders through a connector: the live exchange or the paper
// ledger.
type routed struct {
	e    *Engine
	conn exchange.Connector
}

func (r *routed) submit(ctx context.Context, o *domain.OrderIntent, p plan) bool {
	e := r.e

	// 1. Place, retrying transient and ambiguous failures with the same key
	var placed exchange.Order
	attempts, err := e.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		placed, err = r.conn.PlaceOrder(ctx, p.req)
		return err
	})
	if err != nil {
		r.placementFailed(ctx, o, err, attempts)
		return false
	}

	// 2. Acknowledged
	o.ExchangeOrderID = placed.OrderID
	if err := o.Transition(domain.StateOpen, "acknowledged", e.now()); err != nil {
		o.RequiresReconciliation = true
		o.Reason = err.Error()
		return true
	}

	// 3. Track to a terminal state
	r.track(ctx, o, placed, p)
	return true
}

func (r *routed) placementFailed(ctx context.Context, o *domain.OrderIntent, err error, attempts int) {
	e := r.e
	now := e.now()
	var apiErr *exchange.APIError

	switch exchange.Classify(err) {
	case exchange.ClassPermanent:
		if errors.As(err, &apiErr) {
			_ = o.Transition(domain.StateRejected, "exchange rejected: "+err.Error(), now)
			return
		}
		_ = o.Transition(domain.StateFailed, err.Error(), now)
	case exchange.ClassTransient:
		_ = o.Transition(domain.StateFailed, fmt.Sprintf("retries exhausted after %d attempts: %v", attempts, err), now)
		e.notify(ctx, alert.SeverityWarning, "order placement failed", o.Reason, *o)
	default:
		// The exchange may have accepted the order; only reconciliation
		// can tell.
		_ = o.Transition(domain.StateFailed, fmt.Sprintf("outcome unknown after %d attempts: %v", attempts, err), now)
		o.RequiresReconciliation = true
		e.notify(ctx, alert.SeverityCritical, "order outcome unknown", o.Reason, *o)
	}
}

// track polls the order until it is done or the maker TTL elapses, then
// cancels whatever remains.
func (r *routed) track(ctx context.Context, o *domain.OrderIntent, order exchange.Order, p plan) {
	e := r.e
	ttl := e.exec.MakerTTL
	poll := e.exec.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	deadline := time.NewTimer(ttl)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if r.apply(o, order, p) {
			return
		}
		select {
		case <-ctx.Done():
			r.expire(ctx, o, p, "context done: "+ctx.Err().Error())
			return
		case <-deadline.C:
			r.expire(ctx, o, p, fmt.Sprintf("not filled within %s", ttl))
			return
		case <-ticker.C:
		}

		next, err := r.getOrder(ctx, o.ExchangeOrderID)
		if err != nil {
			e.logger.Warn().Err(err).Str("order_id", o.ExchangeOrderID).Msg("order poll failed")
			continue
		}
		order = next
	}
}

// expire cancels the remainder and settles the terminal state from the
// final fill.
func (r *routed) expire(ctx context.Context, o *domain.OrderIntent, p plan, why string) {
	e := r.e
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	cancelErr := r.cancel(cctx, o.ExchangeOrderID)
	final, err := r.getOrder(cctx, o.ExchangeOrderID)
	if err == nil {
		r.fold(o, final, p)
		switch {
		case final.Status == exchange.StatusFilled:
			_ = o.Transition(domain.StateFilled, "filled", e.now())
			return
		case final.Status.Done() || cancelErr == nil:
			r.settle(o, why)
			return
		}
	}

	cause := cancelErr
	if cause == nil {
		cause = err
	}
	o.RequiresReconciliation = true
	o.Reason = fmt.Sprintf("%s; cancel unconfirmed: %v", why, cause)
	o.UpdatedAt = e.now()
	e.notify(ctx, alert.SeverityCritical, "order cancel unconfirmed", o.Reason, *o)
}

// fold copies fill progress from an exchange snapshot into the intent and
// reports whether the filled size grew.
func (r *routed) fold(o *domain.OrderIntent, order exchange.Order, p plan) bool {
	if order.FilledSize <= o.FilledBase {
		return false
	}
	o.FilledBase = order.FilledSize
	o.AvgFillPrice = order.AvgFilledPrice
	o.Fees = r.e.fees.FillFee(o.AvgFillPrice, o.FilledBase, p.liquidity)
	o.SlippageBps = adverseBps(o.Side, o.AvgFillPrice, o.DecisionMid)
	return true
}

// apply folds an exchange snapshot into the intent and reports whether the
// intent reached a terminal state.
func (r *routed) apply(o *domain.OrderIntent, order exchange.Order, p plan) bool {
	now := r.e.now()
	grew := r.fold(o, order, p)

	switch order.Status {
	case exchange.StatusFilled:
		_ = o.Transition(domain.StateFilled, "filled", now)
		return true
	case exchange.StatusCancelled, exchange.StatusExpired, exchange.StatusFailed:
		why := "exchange reported " + string(order.Status)
		if order.RejectReason != "" {
			why += ": " + order.RejectReason
		}
		r.settle(o, why)
		return true
	}

	if o.FilledBase > 0 && o.FilledBase < o.BaseSize && (o.State == domain.StateOpen || grew) {
		_ = o.Transition(domain.StatePartialFill, fmt.Sprintf("filled %.0f%%", 100*o.FilledBase/o.BaseSize), now)
	}
	return false
}

// settle moves a no-longer-working order to its terminal state based on
// how much of it filled.
func (r *routed) settle(o *domain.OrderIntent, why string) {
	now := r.e.now()
	switch frac := fillFraction(o); {
	case frac <= 0:
		_ = o.Transition(domain.StateCanceled, why, now)
	case frac >= 1:
		_ = o.Transition(domain.StateFilled, "filled", now)
	case frac < r.e.exec.MinFillFraction:
		_ = o.Transition(domain.StateExpired, fmt.Sprintf("%s; partial fill %.0f%% below minimum %.0f%%",
			why, 100*frac, 100*r.e.exec.MinFillFraction), now)
	default:
		_ = o.Transition(domain.StateCanceled, fmt.Sprintf("%s; kept partial fill %.0f%%", why, 100*frac), now)
	}
}

func fillFraction(o *domain.OrderIntent) float64 {
	if o.BaseSize <= 0 {
		return 0
	}
	return o.FilledBase / o.BaseSize
}

func (r *routed) cancel(ctx context.Context, orderID string) error {
	results, err := r.conn.CancelOrders(ctx, []string{orderID})
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.OrderID == orderID && !res.Success && res.Reason != "ORDER_NOT_OPEN" {
			return fmt.Errorf("cancel %s: %s", orderID, res.Reason)
		}
	}
	return nil
}

func (r *routed) getOrder(ctx context.Context, orderID string) (exchange.Order, error) {
	policy := r.e.retry
	policy.OnRetry = func(int, error, time.Duration) { observability.RecordRetry("get_order") }

	var out exchange.Order
	_, err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.conn.GetOrder(ctx, orderID)
		return err
	})
	return out, err
}
