package domain

import "strings"

// Direction represents the predicted/traded direction of a pair.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// TradeStatus represents the lifecycle status of a trade.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// ExecutionMode selects which execution backend the engine routes through.
type ExecutionMode string

const (
	ModeSimulation ExecutionMode = "SIMULATION"
	ModePaper      ExecutionMode = "PAPER"
	ModeLive       ExecutionMode = "LIVE"
)

// RiskLevel represents the process-wide risk state. Escalation is monotonic
// within a trading day; only the day rollover or a manual reset lowers it.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "NORMAL"
	RiskElevated RiskLevel = "ELEVATED"
	RiskCritical RiskLevel = "CRITICAL"
	RiskStopped  RiskLevel = "STOPPED"
)

// Rank orders risk levels for monotonic escalation comparisons.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskNormal:
		return 0
	case RiskElevated:
		return 1
	case RiskCritical:
		return 2
	case RiskStopped:
		return 3
	default:
		return 0
	}
}

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit   CloseReason = "TAKE_PROFIT"
	CloseReasonManual       CloseReason = "MANUAL"
	CloseReasonTimeExit     CloseReason = "TIME_EXIT"
	CloseReasonWeekend      CloseReason = "WEEKEND_EXIT"
	CloseReasonSessionEnd   CloseReason = "SESSION_END"
	CloseReasonMaxHold      CloseReason = "MAX_HOLD_TIME"
	CloseReasonKillSwitch   CloseReason = "KILL_SWITCH"
	CloseReasonCompliance   CloseReason = "COMPLIANCE_CUTOFF"
	CloseReasonAccountReset CloseReason = "ACCOUNT_RESET"
	CloseReasonPartial      CloseReason = "PARTIAL_CLOSE"
)

// StandardLotUnits is the notional size of one standard forex lot.
const StandardLotUnits = 100000.0

// IsJPYQuoted reports whether the pair is quoted in Japanese yen,
// which changes the pip size from 0.0001 to 0.01.
func IsJPYQuoted(pair string) bool {
	return strings.HasSuffix(strings.ToUpper(strings.ReplaceAll(pair, "/", "")), "JPY")
}

// PipSize returns the price increment of one pip for the pair.
func PipSize(pair string) float64 {
	if IsJPYQuoted(pair) {
		return 0.01
	}
	return 0.0001
}

// PipValuePerLot returns the account-currency value of one pip for one
// standard lot: 1000 for JPY-quoted pairs, 10 otherwise.
func PipValuePerLot(pair string) float64 {
	if IsJPYQuoted(pair) {
		return 1000.0
	}
	return 10.0
}
