package domain

import "time"

// ActivityType tags entries in the append-only activity/audit log.
type ActivityType string

const (
	ActivityBotStarted     ActivityType = "BOT_STARTED"
	ActivityBotStopped     ActivityType = "BOT_STOPPED"
	ActivityBotError       ActivityType = "BOT_ERROR"
	ActivityTradeOpened    ActivityType = "TRADE_OPENED"
	ActivityTradeClosed    ActivityType = "TRADE_CLOSED"
	ActivityTradePartial   ActivityType = "TRADE_PARTIAL_CLOSE"
	ActivityRiskLevel      ActivityType = "RISK_LEVEL_CHANGE"
	ActivityKillSwitch     ActivityType = "KILL_SWITCH"
	ActivityCompliance     ActivityType = "COMPLIANCE_CLOSE"
	ActivityModeChange     ActivityType = "MODE_CHANGE"
	ActivitySettingsChange ActivityType = "SETTINGS_CHANGE"
	ActivityBrokerError    ActivityType = "BROKER_ERROR"
	ActivityAccountReset   ActivityType = "ACCOUNT_RESET"
	ActivityPredictionMade ActivityType = "PREDICTION_MADE"
)

// ActivityRecord is one append-only audit log entry.
type ActivityRecord struct {
	ID        int64
	Type      ActivityType
	Message   string
	Data      map[string]interface{} // JSON-encoded at rest
	Timestamp time.Time
}
