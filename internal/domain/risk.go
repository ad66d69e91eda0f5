package domain

// Admission check identifiers, in pipeline order.
const (
	CheckKillSwitch            = "kill_switch"
	CheckDailyStop             = "daily_stop"
	CheckWeeklyStop            = "weekly_stop"
	CheckMaxDrawdown           = "max_drawdown"
	CheckStaleData             = "stale_data"
	CheckProductHealth         = "product_health"
	CheckVolatility            = "volatility"
	CheckVolatilityHalt        = "volatility_halt"
	CheckReconciliationPending = "reconciliation_pending"
	CheckOutlierTick           = "outlier_tick"
	CheckNoShorting            = "no_shorting"
	CheckCooldown              = "cooldown"
	CheckStrategyBudget        = "strategy_budget"
	CheckPositionSizeCap       = "position_size_cap"
	CheckThemeCap              = "theme_cap"
	CheckTotalExposureCap      = "total_exposure_cap"
	CheckMaxPositions          = "max_positions"
	CheckTradeFrequency        = "trade_frequency"
	CheckMinConviction         = "min_conviction"
	CheckInvalidProposal       = "invalid_proposal"
	CheckRegime                = "regime"
	CheckInternalError         = "internal_error"
)

// Rejection records why one proposal was dropped.
type Rejection struct {
	ProposalID string `json:"proposal_id"`
	Symbol     string `json:"symbol"`
	Check      string `json:"check"`
	Reason     string `json:"reason"`
}

// Resize records a proposal admitted at a smaller size than requested.
type Resize struct {
	ProposalID string  `json:"proposal_id"`
	Symbol     string  `json:"symbol"`
	Check      string  `json:"check"`
	FromPct    float64 `json:"from_pct"`
	ToPct      float64 `json:"to_pct"`
}

// RiskCheckResult is the outcome of one admission run.
type RiskCheckResult struct {
	Approved          bool            `json:"approved"`
	Reason            string          `json:"reason"`
	ViolatedChecks    []string        `json:"violated_checks"`
	ApprovedProposals []TradeProposal `json:"approved_proposals"`
	Rejections        []Rejection     `json:"rejections"`
	Resizes           []Resize        `json:"resizes"`
	Halted            bool            `json:"halted"`
}

// Violated reports whether check appears in ViolatedChecks.
func (r RiskCheckResult) Violated(check string) bool {
	for _, c := range r.ViolatedChecks {
		if c == check {
			return true
		}
	}
	return false
}

// RejectionFor returns the rejection recorded for a proposal id.
func (r RiskCheckResult) RejectionFor(proposalID string) (Rejection, bool) {
	for _, rej := range r.Rejections {
		if rej.ProposalID == proposalID {
			return rej, true
		}
	}
	return Rejection{}, false
}
