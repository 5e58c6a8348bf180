package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so callers can
// branch with errors.Is without importing adapter packages.
var (
	// General
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrInvalidRequest     = errors.New("invalid request parameters")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Broker / feed
	ErrBrokerUnavailable = errors.New("broker API is unavailable")
	ErrNotConnected      = errors.New("broker connection is not established")
	ErrRateLimited       = errors.New("API rate limit exceeded")
	ErrAuthFailed        = errors.New("broker authentication failed")
	ErrInsufficientFunds = errors.New("insufficient funds for operation")
	ErrOrderRejected     = errors.New("broker rejected the order")
	ErrFeedUnavailable   = errors.New("no price source available")

	// Engine
	ErrTradeNotOpen = errors.New("trade is not open")
	ErrWrongMode    = errors.New("operation not permitted in current execution mode")

	// Database
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
