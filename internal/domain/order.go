package domain

import (
	"errors"
	"fmt"
	"time"
)

// Mode is the operating mode of the execution pipeline.
type Mode string

const (
	ModeDryRun Mode = "DRY_RUN"
	ModePaper  Mode = "PAPER"
	ModeLive   Mode = "LIVE"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDryRun, ModePaper, ModeLive:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want DRY_RUN, PAPER or LIVE)", s)
}

// OrderType selects maker-only limit or market execution.
type OrderType string

const (
	OrderTypePostOnlyLimit OrderType = "POST_ONLY_LIMIT"
	OrderTypeMarket        OrderType = "MARKET"
)

// OrderState is a node of the order lifecycle state machine.
type OrderState string

const (
	StateNew         OrderState = "NEW"
	StateOpen        OrderState = "OPEN"
	StatePartialFill OrderState = "PARTIAL_FILL"
	StateFilled      OrderState = "FILLED"
	StateCanceled    OrderState = "CANCELED"
	StateExpired     OrderState = "EXPIRED"
	StateRejected    OrderState = "REJECTED"
	StateFailed      OrderState = "FAILED"
)

// ErrIllegalTransition is returned for transitions outside the lifecycle.
var ErrIllegalTransition = errors.New("illegal order state transition")

var transitions = map[OrderState][]OrderState{
	StateNew:         {StateOpen, StateRejected, StateFailed},
	StateOpen:        {StatePartialFill, StateFilled, StateCanceled, StateExpired},
	StatePartialFill: {StatePartialFill, StateFilled, StateCanceled, StateExpired},
}

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateExpired, StateRejected, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to OrderState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateChange is one entry of an order's history.
type StateChange struct {
	From   OrderState `json:"from"`
	To     OrderState `json:"to"`
	Reason string     `json:"reason"`
	At     time.Time  `json:"at"`
}

// OrderIntent tracks one order through the execution pipeline.
type OrderIntent struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Type           OrderType `json:"type"`
	Tier           Tier      `json:"tier"`
	Mode           Mode      `json:"mode"`
	StrategyID     string    `json:"strategy_id"`
	ExitReason     string    `json:"exit_reason"`

	// ParentKey is set on a taker fallback to the key of the maker order
	// it replaces; FallbackKey is the reverse link.
	ParentKey   string `json:"parent_key,omitempty"`
	FallbackKey string `json:"fallback_key,omitempty"`

	RequestedQuote float64 `json:"requested_quote"`
	BaseSize       float64 `json:"base_size"`
	LimitPrice     float64 `json:"limit_price"`
	DecisionMid    float64 `json:"decision_mid"`

	ExchangeOrderID string     `json:"exchange_order_id"`
	State           OrderState `json:"state"`
	FilledBase      float64    `json:"filled_base"`
	AvgFillPrice    float64    `json:"avg_fill_price"`
	Fees            float64    `json:"fees"`
	SlippageBps     float64    `json:"slippage_bps"`
	Reason          string     `json:"reason"`

	// RequiresReconciliation marks an order whose exchange-side state is
	// unknown; its symbol stays blocked until reconciliation resolves it.
	RequiresReconciliation bool `json:"requires_reconciliation"`

	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	History   []StateChange `json:"history"`
}

// NewOrderIntent creates an intent in state NEW.
func NewOrderIntent(key, symbol string, side Side, quote float64, now time.Time) *OrderIntent {
	return &OrderIntent{
		IdempotencyKey: key,
		Symbol:         symbol,
		Side:           side,
		RequestedQuote: quote,
		State:          StateNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the intent to a new state. Terminal intents are immutable.
func (o *OrderIntent) Transition(to OrderState, reason string, at time.Time) error {
	if !CanTransition(o.State, to) {
		return fmt.Errorf("%w: %s -> %s (order %s)", ErrIllegalTransition, o.State, to, o.IdempotencyKey)
	}
	o.History = append(o.History, StateChange{From: o.State, To: to, Reason: reason, At: at})
	o.State = to
	o.UpdatedAt = at
	if reason != "" {
		o.Reason = reason
	}
	return nil
}

// FilledQuote returns the filled notional.
func (o *OrderIntent) FilledQuote() float64 {
	return o.FilledBase * o.AvgFillPrice
}

// Clone returns a deep copy.
func (o OrderIntent) Clone() OrderIntent {
	o.History = append([]StateChange(nil), o.History...)
	return o
}

// ExecutionResult is returned by the execution pipeline for one request.
type ExecutionResult struct {
	Order OrderIntent `json:"order"`

	// Duplicate is set when the idempotency key was already known and the
	// stored result was returned without contacting the exchange.
	Duplicate bool `json:"duplicate"`

	// Submitted is set when an order reached the exchange (LIVE) or the
	// paper ledger (PAPER).
	Submitted bool `json:"submitted"`
}

// State is shorthand for r.Order.State.
func (r ExecutionResult) State() OrderState {
	return r.Order.State
}
