package domain

// Side is the order direction. The bot only trades spot longs: SELL closes
// (part of) an existing position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Tier classifies an asset by liquidity and risk.
type Tier string

const (
	Tier1 Tier = "tier1" // majors
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3" // long tail
)

// Exit reasons carried on SELL proposals and order intents.
const (
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
	ExitReasonSignal     = "signal"
)

// TradeProposal is a candidate trade emitted by the strategy layer.
// Proposals are values: the admission pipeline never mutates its input and
// produces resized copies via WithSize.
type TradeProposal struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	SizePct       float64 `json:"size_pct"` // fraction of NAV, 0.05 = 5%
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	Conviction    float64 `json:"conviction"` // [0,1]
	StrategyID    string  `json:"strategy_id"`
	Tier          Tier    `json:"tier"`

	// Theme overrides the configured symbol->theme mapping when set.
	Theme string `json:"theme,omitempty"`

	// Signal metadata used by the outlier guard.
	TriggerMovePct float64 `json:"trigger_move_pct,omitempty"`
	VolumeRatio    float64 `json:"volume_ratio,omitempty"`

	// ExitReason is set on SELL proposals.
	ExitReason string `json:"exit_reason,omitempty"`
}

// WithSize returns a copy of the proposal with a new NAV fraction.
func (p TradeProposal) WithSize(sizePct float64) TradeProposal {
	p.SizePct = sizePct
	return p
}

// IsEntry reports whether the proposal opens or adds to a long.
func (p TradeProposal) IsEntry() bool {
	return p.Side == SideBuy
}
