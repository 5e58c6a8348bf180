package timeexit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxTradeBot/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testConfig() Config {
	return Config{
		WeekendExitEnabled: true,
		WeekendCutoffHour:  21,
		SessionExitEnabled: true,
		SessionEndHour:     21,
		MaxHoldTime:        48 * time.Hour,
	}
}

// 2024-06-07 is a Friday, 2024-06-08 a Saturday.
var (
	fridayNoon    = time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC)
	fridayLate    = time.Date(2024, 6, 7, 21, 30, 0, 0, time.UTC)
	fridayWarning = time.Date(2024, 6, 7, 20, 15, 0, 0, time.UTC)
	saturday      = time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC)
	tuesdayNoon   = time.Date(2024, 6, 4, 12, 0, 0, 0, time.UTC)
)

func TestWeekendCutoffBeatsLowerUrgencies(t *testing.T) {
	m := New(testConfig()).WithClock(fixedClock(fridayLate))
	d := m.CheckTimeExits()
	require.True(t, d.ShouldExit)
	assert.Equal(t, "WEEKEND", d.Type)
	assert.Equal(t, UrgencyWeekendCutoff, d.Urgency)
	assert.Equal(t, domain.CloseReasonWeekend, d.CloseReason())
}

func TestSaturdayAlwaysExits(t *testing.T) {
	m := New(testConfig()).WithClock(fixedClock(saturday))
	d := m.CheckTimeExits()
	require.True(t, d.ShouldExit)
	assert.Equal(t, UrgencyWeekendCutoff, d.Urgency)
}

func TestWeekendPreWarning(t *testing.T) {
	// 20:15 Friday: one hour before cutoff → warning (50), and the session
	// rule has not fired yet (session end 21:00 is 45 min away → fires at 60).
	m := New(testConfig()).WithClock(fixedClock(fridayWarning))
	d := m.CheckTimeExits()
	require.True(t, d.ShouldExit)
	// Session-end (60) outranks the weekend pre-warning (50).
	assert.Equal(t, "SESSION_END", d.Type)
	assert.Equal(t, UrgencySessionEnd, d.Urgency)

	// With session exits off, the pre-warning shows through.
	cfg := testConfig()
	cfg.SessionExitEnabled = false
	m = New(cfg).WithClock(fixedClock(fridayWarning))
	d = m.CheckTimeExits()
	require.True(t, d.ShouldExit)
	assert.Equal(t, "WEEKEND_WARNING", d.Type)
	assert.Equal(t, UrgencyWeekendWarning, d.Urgency)
}

func TestMidweekNoExit(t *testing.T) {
	cfg := testConfig()
	cfg.SessionExitEnabled = false
	m := New(cfg).WithClock(fixedClock(tuesdayNoon))
	assert.False(t, m.CheckTimeExits().ShouldExit)
}

func TestMaxHoldTime(t *testing.T) {
	m := New(testConfig()).WithClock(fixedClock(tuesdayNoon))

	fresh := &domain.Trade{ID: 1, Status: domain.StatusOpen, OpenedAt: tuesdayNoon.Add(-2 * time.Hour)}
	stale := &domain.Trade{ID: 2, Status: domain.StatusOpen, OpenedAt: tuesdayNoon.Add(-49 * time.Hour)}

	assert.False(t, m.CheckMaxHoldTime(fresh).ShouldExit)

	d := m.CheckMaxHoldTime(stale)
	require.True(t, d.ShouldExit)
	assert.Equal(t, "MAX_HOLD", d.Type)
	assert.Equal(t, domain.CloseReasonMaxHold, d.CloseReason())
}

func TestCheckAllTradesGlobalOverridesIndividual(t *testing.T) {
	trades := []*domain.Trade{
		{ID: 1, Status: domain.StatusOpen, OpenedAt: saturday.Add(-1 * time.Hour)},
		{ID: 2, Status: domain.StatusOpen, OpenedAt: saturday.Add(-80 * time.Hour)},
		{ID: 3, Status: domain.StatusClosed, OpenedAt: saturday.Add(-80 * time.Hour)},
	}

	m := New(testConfig()).WithClock(fixedClock(saturday))
	decisions := m.CheckAllTradesForExit(trades)
	require.Len(t, decisions, 2) // closed trade excluded
	assert.Equal(t, "WEEKEND", decisions[1].Type)
	assert.Equal(t, "WEEKEND", decisions[2].Type)

	// Midweek: only the over-held trade is flagged.
	cfg := testConfig()
	cfg.SessionExitEnabled = false
	m = New(cfg).WithClock(fixedClock(tuesdayNoon))
	trades[0].OpenedAt = tuesdayNoon.Add(-1 * time.Hour)
	trades[1].OpenedAt = tuesdayNoon.Add(-72 * time.Hour)
	decisions = m.CheckAllTradesForExit(trades)
	require.Len(t, decisions, 1)
	assert.Equal(t, "MAX_HOLD", decisions[2].Type)
}

func TestShouldBlockNewTrades(t *testing.T) {
	m := New(testConfig())

	assert.True(t, m.WithClock(fixedClock(saturday)).ShouldBlockNewTrades())
	assert.True(t, m.WithClock(fixedClock(fridayWarning)).ShouldBlockNewTrades()) // within 2h of cutoff
	assert.True(t, m.WithClock(fixedClock(fridayLate)).ShouldBlockNewTrades())    // past cutoff
	assert.False(t, m.WithClock(fixedClock(fridayNoon)).ShouldBlockNewTrades())   // 9h before cutoff
	assert.False(t, m.WithClock(fixedClock(tuesdayNoon)).ShouldBlockNewTrades())
}
