package ports

import "time"

// DeadlineStatus describes where the current time sits relative to a
// compliance trading-window cutoff.
type DeadlineStatus struct {
	PastCutoff          bool
	WithinWarningWindow bool
	MinutesUntilCutoff  int
}

// CompliancePolicy is the optional trading-window / leverage-cap plug-in.
// When the policy is past cutoff the orchestrator force-closes all open
// trades and suppresses new entries until the next window.
type CompliancePolicy interface {
	// Enabled reports whether the policy is active at all.
	Enabled() bool
	// CheckDeadline evaluates the cutoff rules at the given time.
	CheckDeadline(now time.Time) DeadlineStatus
	// LeverageCapped reports whether position sizing must respect MaxLeverage.
	LeverageCapped() bool
	// MaxLeverage is the cap used as lots × standardLot ≤ balance × MaxLeverage.
	MaxLeverage() float64
}
