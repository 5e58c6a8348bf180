// Package timeexit implements the wall-clock exit policy: weekend cutoffs,
// session-end exits, and per-trade maximum hold time. The manager owns no
// state beyond its configuration.
package timeexit

import (
	"fmt"
	"time"

	"fxTradeBot/internal/domain"
)

// Exit urgencies; when several rules fire the highest wins.
const (
	UrgencyWeekendCutoff  = 100
	UrgencySessionEnd     = 60
	UrgencyWeekendWarning = 50
	UrgencyMaxHold        = 40
)

// Decision answers "should we exit now, and why".
type Decision struct {
	ShouldExit bool
	Type       string // WEEKEND, WEEKEND_WARNING, SESSION_END, MAX_HOLD
	Reason     string
	Urgency    int
}

// CloseReason maps the decision type to a trade close reason.
func (d Decision) CloseReason() domain.CloseReason {
	switch d.Type {
	case "WEEKEND", "WEEKEND_WARNING":
		return domain.CloseReasonWeekend
	case "SESSION_END":
		return domain.CloseReasonSessionEnd
	case "MAX_HOLD":
		return domain.CloseReasonMaxHold
	default:
		return domain.CloseReasonTimeExit
	}
}

// Config parameterizes the exit rules. All hours are UTC.
type Config struct {
	WeekendExitEnabled bool
	WeekendCutoffHour  int // Friday hour after which all trades close
	SessionExitEnabled bool
	SessionEndHour     int // session close hour; exits fire in the last 30 minutes
	MaxHoldTime        time.Duration
}

// Manager evaluates the time-exit rules.
type Manager struct {
	cfg Config

	// now is swapped in tests.
	now func() time.Time
}

// New creates a time-exit manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, now: time.Now}
}

// WithClock overrides the manager's clock (tests only).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CheckTimeExits evaluates the global (trade-independent) exit rules and
// returns the firing rule with the highest urgency.
func (m *Manager) CheckTimeExits() Decision {
	now := m.now().UTC()
	best := Decision{}

	consider := func(d Decision) {
		if d.ShouldExit && d.Urgency > best.Urgency {
			best = d
		}
	}

	if m.cfg.WeekendExitEnabled {
		switch now.Weekday() {
		case time.Saturday, time.Sunday:
			consider(Decision{
				ShouldExit: true,
				Type:       "WEEKEND",
				Reason:     "market closed for the weekend",
				Urgency:    UrgencyWeekendCutoff,
			})
		case time.Friday:
			if now.Hour() >= m.cfg.WeekendCutoffHour {
				consider(Decision{
					ShouldExit: true,
					Type:       "WEEKEND",
					Reason:     fmt.Sprintf("past Friday %02d:00 UTC weekend cutoff", m.cfg.WeekendCutoffHour),
					Urgency:    UrgencyWeekendCutoff,
				})
			} else if now.Hour() == m.cfg.WeekendCutoffHour-1 {
				consider(Decision{
					ShouldExit: true,
					Type:       "WEEKEND_WARNING",
					Reason:     "weekend cutoff approaching",
					Urgency:    UrgencyWeekendWarning,
				})
			}
		}
	}

	if m.cfg.SessionExitEnabled {
		sessionEnd := time.Date(now.Year(), now.Month(), now.Day(), m.cfg.SessionEndHour, 0, 0, 0, time.UTC)
		until := sessionEnd.Sub(now)
		if until > 0 && until <= 30*time.Minute {
			consider(Decision{
				ShouldExit: true,
				Type:       "SESSION_END",
				Reason:     fmt.Sprintf("within 30 minutes of %02d:00 UTC session end", m.cfg.SessionEndHour),
				Urgency:    UrgencySessionEnd,
			})
		}
	}

	return best
}

// CheckMaxHoldTime flags a trade held longer than the configured maximum.
func (m *Manager) CheckMaxHoldTime(trade *domain.Trade) Decision {
	if m.cfg.MaxHoldTime <= 0 || trade == nil {
		return Decision{}
	}
	held := m.now().UTC().Sub(trade.OpenedAt)
	if held <= m.cfg.MaxHoldTime {
		return Decision{}
	}
	return Decision{
		ShouldExit: true,
		Type:       "MAX_HOLD",
		Reason:     fmt.Sprintf("held %s, max hold %s", held.Round(time.Minute), m.cfg.MaxHoldTime),
		Urgency:    UrgencyMaxHold,
	}
}

// CheckAllTradesForExit returns a decision per trade id. When a global rule
// fires every open trade carries that same decision; otherwise only trades
// over their max hold are flagged.
func (m *Manager) CheckAllTradesForExit(trades []*domain.Trade) map[int64]Decision {
	out := make(map[int64]Decision)
	global := m.CheckTimeExits()
	for _, t := range trades {
		if !t.IsOpen() {
			continue
		}
		if global.ShouldExit {
			out[t.ID] = global
			continue
		}
		if d := m.CheckMaxHoldTime(t); d.ShouldExit {
			out[t.ID] = d
		}
	}
	return out
}

// ShouldBlockNewTrades reports whether new entries are blocked: on weekends,
// past the Friday cutoff, or within 2 hours of it. Independent of how
// existing trades are handled.
func (m *Manager) ShouldBlockNewTrades() bool {
	if !m.cfg.WeekendExitEnabled {
		return false
	}
	now := m.now().UTC()
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	case time.Friday:
		cutoff := time.Date(now.Year(), now.Month(), now.Day(), m.cfg.WeekendCutoffHour, 0, 0, 0, time.UTC)
		return cutoff.Sub(now) <= 2*time.Hour
	}
	return false
}
