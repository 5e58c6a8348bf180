// Package binanceclient is the LIVE execution backend: market orders routed
// to the Binance API, with broker error codes fed through the classifier so
// the connection supervisor can decide on retries and reconnects.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"fxTradeBot/internal/classifier"
	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// balanceAsset is the account asset trades settle in.
	balanceAsset = "USDT"
)

// Client implements ports.TradeExecutor against the Binance futures API.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	classifier    *classifier.Classifier
	reconnect     *backoff.Backoff
	connected     atomic.Bool
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
	Classifier *classifier.Classifier
}

// New creates a new Binance execution adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("error classifier is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		classifier:    cfg.Classifier,
		reconnect: &backoff.Backoff{
			Min:    time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}, nil
}

// handleError translates Binance API errors into standardized ports errors
// and feeds every API error through the classifier. A FATAL+recoverable
// classification marks the client disconnected so the supervisor runs the
// reconnect sequence.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		decision := c.classifier.HandleError(ctx, int(apiErr.Code), apiErr.Message)
		if decision.ShouldReconnect {
			c.connected.Store(false)
		}

		var mappedErr error
		switch apiErr.Code {
		case -1001, -1006:
			mappedErr = ports.ErrBrokerUnavailable
		case -1003, -1008, -1015:
			mappedErr = ports.ErrRateLimited
		case -1007, -1021:
			mappedErr = ports.ErrTimeout
		case -1002, -1022, -2014, -2015:
			mappedErr = ports.ErrAuthFailed
		case -2018, -2019:
			mappedErr = ports.ErrInsufficientFunds
		case -1100, -1111, -1121, -4003:
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2011:
			mappedErr = ports.ErrOrderRejected
		default:
			mappedErr = ports.ErrBrokerUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w", operation, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		c.connected.Store(false)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrNotConnected, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrBrokerUnavailable, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Connect verifies connectivity and synchronizes the client clock with the
// server. Called at startup and by the reconnect supervisor.
func (c *Client) Connect(ctx context.Context) error {
	op := "Connect"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	if _, err := c.futuresClient.NewSetServerTimeService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.connected.Store(true)
	c.reconnect.Reset()
	c.logger.Info(ctx, "Binance connection established")
	return nil
}

// Reconnect retries Connect with exponential backoff until it succeeds or
// the context is done.
func (c *Client) Reconnect(ctx context.Context) error {
	op := "Reconnect"
	for {
		if err := c.Connect(ctx); err == nil {
			return nil
		}
		delay := c.reconnect.Duration()
		c.logger.Warn(ctx, op+": connection attempt failed, backing off", map[string]interface{}{
			"delay": delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s aborted: %w", op, ctx.Err())
		}
	}
}

// Mode identifies this backend.
func (c *Client) Mode() domain.ExecutionMode {
	return domain.ModeLive
}

// OpenOrder places a market order entering a position.
func (c *Client) OpenOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*ports.OrderFill, error) {
	return c.marketOrder(ctx, "OpenOrder", pair, entrySide(direction), lots, price)
}

// CloseOrder places a market order exiting a position: the opposite side of
// the entry.
func (c *Client) CloseOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*ports.OrderFill, error) {
	return c.marketOrder(ctx, "CloseOrder", pair, exitSide(direction), lots, price)
}

func (c *Client) marketOrder(ctx context.Context, op, pair string, side futures.SideType, lots, price float64) (*ports.OrderFill, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("%s: %w", op, ports.ErrNotConnected)
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(toSymbol(pair)).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(lotsToQuantity(lots)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fillPrice, err := strconv.ParseFloat(order.AvgPrice, 64)
	if err != nil || fillPrice <= 0 {
		// Market orders occasionally report no average price immediately;
		// fall back to the engine's market price.
		fillPrice = price
	}

	fill := &ports.OrderFill{
		OrderID:   strconv.FormatInt(order.OrderID, 10),
		Pair:      pair,
		Price:     fillPrice,
		Lots:      lots,
		Timestamp: time.UnixMilli(order.UpdateTime),
	}
	c.logger.Info(ctx, op+" filled", map[string]interface{}{
		"pair":    pair,
		"side":    string(side),
		"lots":    lots,
		"price":   fill.Price,
		"orderID": fill.OrderID,
	})
	return fill, nil
}

// Settle is a no-op: the live broker settles P&L on its own side.
func (c *Client) Settle(ctx context.Context, pnl float64) error {
	return nil
}

// Balance retrieves the wallet balance of the settlement asset.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	op := "Balance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == balanceAsset {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, balanceAsset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}
	err = fmt.Errorf("asset %s not found in account balance", balanceAsset)
	return 0, c.handleError(ctx, err, op)
}

// Connected reports whether the backend is currently reachable.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// toSymbol converts "EUR/USD" to the broker's "EURUSD" form.
func toSymbol(pair string) string {
	return strings.ReplaceAll(strings.ToUpper(pair), "/", "")
}

// lotsToQuantity converts lots to base-currency units.
func lotsToQuantity(lots float64) string {
	return strconv.FormatFloat(lots*domain.StandardLotUnits, 'f', 0, 64)
}

func entrySide(direction domain.Direction) futures.SideType {
	if direction == domain.DirectionUp {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func exitSide(direction domain.Direction) futures.SideType {
	if direction == domain.DirectionUp {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

var _ ports.TradeExecutor = (*Client)(nil)
