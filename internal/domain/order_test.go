package domain

import (
	"errors"
	"testing"
	"time"
)

var allStates = []OrderState{
	StateNew, StateOpen, StatePartialFill,
	StateFilled, StateCanceled, StateExpired, StateRejected, StateFailed,
}

func TestCanTransition_Table(t *testing.T) {
	tests := []struct {
		from, to OrderState
		want     bool
	}{
		{StateNew, StateOpen, true},
		{StateNew, StateRejected, true},
		{StateNew, StateFailed, true},
		{StateNew, StateFilled, false},
		{StateNew, StatePartialFill, false},
		{StateNew, StateCanceled, false},
		{StateOpen, StatePartialFill, true},
		{StateOpen, StateFilled, true},
		{StateOpen, StateCanceled, true},
		{StateOpen, StateExpired, true},
		{StateOpen, StateNew, false},
		{StateOpen, StateFailed, false},
		{StatePartialFill, StatePartialFill, true},
		{StatePartialFill, StateFilled, true},
		{StatePartialFill, StateCanceled, true},
		{StatePartialFill, StateExpired, true},
		{StatePartialFill, StateOpen, false},
		{StatePartialFill, StateRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatesNeverTransition(t *testing.T) {
	for _, from := range allStates {
		if !from.Terminal() {
			continue
		}
		for _, to := range allStates {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s allows transition to %s", from, to)
			}
		}
	}
}

func TestReachableStatesAreClosed(t *testing.T) {
	// Every state is reachable from NEW, and fill/cancel/expiry states sit
	// downstream of OPEN.
	reached := map[OrderState]bool{StateNew: true}
	queue := []OrderState{StateNew}
	viaOpen := map[OrderState]bool{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range allStates {
			if !CanTransition(cur, next) {
				continue
			}
			if cur == StateOpen || viaOpen[cur] {
				viaOpen[next] = true
			}
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, s := range allStates {
		if !reached[s] {
			t.Errorf("state %s not reachable from NEW", s)
		}
	}
	for _, s := range []OrderState{StatePartialFill, StateCanceled, StateExpired, StateFilled} {
		if !viaOpen[s] {
			t.Errorf("state %s reachable without passing OPEN", s)
		}
	}
}

func TestOrderIntent_Transition(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	o := NewOrderIntent("key-1", "BTC-USD", SideBuy, 100, now)

	if err := o.Transition(StateOpen, "acknowledged", now); err != nil {
		t.Fatalf("NEW->OPEN: %v", err)
	}
	if err := o.Transition(StatePartialFill, "", now); err != nil {
		t.Fatalf("OPEN->PARTIAL_FILL: %v", err)
	}
	if err := o.Transition(StateFilled, "filled", now); err != nil {
		t.Fatalf("PARTIAL_FILL->FILLED: %v", err)
	}

	err := o.Transition(StateCanceled, "late cancel", now)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if o.State != StateFilled {
		t.Errorf("state changed after illegal transition: %s", o.State)
	}
	if len(o.History) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(o.History))
	}
	if o.Reason != "filled" {
		t.Errorf("expected reason 'filled', got %q", o.Reason)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"DRY_RUN", "PAPER", "LIVE"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%s): %v", s, err)
		}
	}
	if _, err := ParseMode("live"); err == nil {
		t.Error("expected error for lowercase mode")
	}
}
