// Package classifier reconciles broker-specific error codes into a uniform
// severity/category/recoverability taxonomy and derives the retry/reconnect
// decision the connection supervisor acts on.
package classifier

import (
	"context"
	"sync"
	"time"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"
)

// Severity grades how bad a broker error is.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
)

// Category groups broker errors by subsystem.
type Category string

const (
	CategoryConnection Category = "CONNECTION"
	CategoryOrder      Category = "ORDER"
	CategoryMarketData Category = "MARKET_DATA"
	CategoryAccount    Category = "ACCOUNT"
	CategoryRateLimit  Category = "RATE_LIMIT"
	CategorySystem     Category = "SYSTEM"
)

// Classification is the static verdict for one error code.
type Classification struct {
	Severity    Severity
	Category    Category
	Recoverable bool
}

// Record is one classified error occurrence.
type Record struct {
	Code        int
	Message     string
	Severity    Severity
	Category    Category
	Recoverable bool
	Timestamp   time.Time
}

// Decision tells the caller what to do about the error.
type Decision struct {
	ShouldReconnect bool // severity == FATAL && recoverable
	ShouldRetry     bool // recoverable && severity != FATAL
}

// Listener receives every classified error.
type Listener func(Record)

// defaultTable maps broker error codes (Binance API code space, which the
// live adapter emits) to their classification. Unknown codes fall back to
// {WARNING, SYSTEM, not recoverable}.
var defaultTable = map[int]Classification{
	-1000: {SeverityError, CategorySystem, true},       // UNKNOWN server error
	-1001: {SeverityFatal, CategoryConnection, true},   // DISCONNECTED
	-1002: {SeverityFatal, CategoryAccount, false},     // UNAUTHORIZED
	-1003: {SeverityWarning, CategoryRateLimit, true},  // TOO_MANY_REQUESTS
	-1006: {SeverityError, CategoryConnection, true},   // UNEXPECTED_RESP
	-1007: {SeverityWarning, CategoryConnection, true}, // TIMEOUT
	-1008: {SeverityWarning, CategoryRateLimit, true},  // server overloaded
	-1015: {SeverityWarning, CategoryRateLimit, true},  // TOO_MANY_ORDERS
	-1021: {SeverityWarning, CategoryConnection, true}, // INVALID_TIMESTAMP (clock drift)
	-1022: {SeverityFatal, CategoryAccount, false},     // INVALID_SIGNATURE
	-1100: {SeverityError, CategoryOrder, false},       // ILLEGAL_CHARS in params
	-1111: {SeverityError, CategoryOrder, false},       // BAD_PRECISION
	-1121: {SeverityError, CategoryMarketData, false},  // BAD_SYMBOL
	-2010: {SeverityError, CategoryOrder, false},       // NEW_ORDER_REJECTED
	-2011: {SeverityWarning, CategoryOrder, true},      // CANCEL_REJECTED
	-2013: {SeverityInfo, CategoryOrder, true},         // NO_SUCH_ORDER
	-2014: {SeverityFatal, CategoryAccount, false},     // bad API key format
	-2015: {SeverityFatal, CategoryAccount, false},     // rejected key/IP/permissions
	-2018: {SeverityError, CategoryAccount, false},     // balance insufficient
	-2019: {SeverityError, CategoryAccount, false},     // margin insufficient
	-4003: {SeverityError, CategoryOrder, false},       // quantity below minimum
	-4131: {SeverityWarning, CategoryMarketData, true}, // counterparty PNL protection / no market price
}

// unknownClassification is applied to codes missing from the table.
var unknownClassification = Classification{SeverityWarning, CategorySystem, false}

// Classifier holds the code table, a bounded most-recent-first record
// buffer, and the registered listeners.
type Classifier struct {
	mu         sync.Mutex
	table      map[int]Classification
	records    []Record
	maxRecords int
	listeners  []Listener

	logger   ports.Logger
	activity ports.ActivityLogger
}

// Config holds construction parameters for the classifier.
type Config struct {
	Logger     ports.Logger
	Activity   ports.ActivityLogger // optional; audit trail for classified errors
	BufferSize int                  // bounded record buffer, default 100
}

// New creates a classifier with the default broker code table.
func New(cfg Config) *Classifier {
	size := cfg.BufferSize
	if size <= 0 {
		size = 100
	}
	table := make(map[int]Classification, len(defaultTable))
	for k, v := range defaultTable {
		table[k] = v
	}
	return &Classifier{
		table:      table,
		maxRecords: size,
		records:    make([]Record, 0, size),
		logger:     cfg.Logger,
		activity:   cfg.Activity,
	}
}

// Classify returns the static verdict for a code.
func (c *Classifier) Classify(code int) Classification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.table[code]; ok {
		return cl
	}
	return unknownClassification
}

// AddListener registers a listener invoked (synchronously) for every
// handled error.
func (c *Classifier) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// HandleError classifies and records one broker error, notifies listeners,
// and returns the reconnect/retry decision.
func (c *Classifier) HandleError(ctx context.Context, code int, message string) Decision {
	cl := c.Classify(code)
	rec := Record{
		Code:        code,
		Message:     message,
		Severity:    cl.Severity,
		Category:    cl.Category,
		Recoverable: cl.Recoverable,
		Timestamp:   time.Now().UTC(),
	}

	c.mu.Lock()
	// Most-recent-first, bounded.
	c.records = append([]Record{rec}, c.records...)
	if len(c.records) > c.maxRecords {
		c.records = c.records[:c.maxRecords]
	}
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn(ctx, "Broker error classified", map[string]interface{}{
			"code":        code,
			"message":     message,
			"severity":    string(cl.Severity),
			"category":    string(cl.Category),
			"recoverable": cl.Recoverable,
		})
	}
	if c.activity != nil {
		_ = c.activity.Log(ctx, domain.ActivityBrokerError, message, map[string]interface{}{
			"code":     code,
			"severity": string(cl.Severity),
			"category": string(cl.Category),
		})
	}
	for _, l := range listeners {
		l(rec)
	}

	return Decision{
		ShouldReconnect: cl.Severity == SeverityFatal && cl.Recoverable,
		ShouldRetry:     cl.Recoverable && cl.Severity != SeverityFatal,
	}
}

// Recent returns a copy of the record buffer, most recent first.
func (c *Classifier) Recent() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}
