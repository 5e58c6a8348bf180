// Package compliance implements the optional trading-window policy: a daily
// UTC cutoff after which all positions are force-closed and new entries are
// suppressed, plus a leverage-capped sizing mode.
package compliance

import (
	"time"

	"fxTradeBot/config"
	"fxTradeBot/internal/ports"
)

// Policy implements ports.CompliancePolicy from static configuration.
type Policy struct {
	cfg config.ComplianceConfig
	now func() time.Time
}

// New creates a compliance policy.
func New(cfg config.ComplianceConfig) *Policy {
	return &Policy{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source for tests.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// Enabled reports whether the policy is active at all.
func (p *Policy) Enabled() bool {
	return p.cfg.Enabled
}

// LeverageCapped reports whether the sizing leverage cap applies.
func (p *Policy) LeverageCapped() bool {
	return p.cfg.Enabled && p.cfg.LeverageCapped
}

// MaxLeverage returns the configured leverage ceiling.
func (p *Policy) MaxLeverage() float64 {
	return p.cfg.MaxLeverage
}

// CheckDeadline evaluates the daily cutoff against the given time in UTC.
// Past the cutoff, the orchestrator force-closes positions and blocks new
// entries until the next day.
func (p *Policy) CheckDeadline(now time.Time) ports.DeadlineStatus {
	if !p.cfg.Enabled {
		return ports.DeadlineStatus{MinutesUntilCutoff: -1}
	}
	nowUTC := now.UTC()
	cutoff := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(),
		p.cfg.CutoffHour, p.cfg.CutoffMinute, 0, 0, time.UTC)

	until := cutoff.Sub(nowUTC)
	if until <= 0 {
		return ports.DeadlineStatus{PastCutoff: true}
	}
	return ports.DeadlineStatus{
		WithinWarningWindow: until <= p.cfg.WarningWindow,
		MinutesUntilCutoff:  int(until.Minutes()),
	}
}
