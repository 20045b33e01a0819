// Package binance adapts Binance USDⓈ-M futures accounts to the
// exchange.Exchange interface.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/copytrader/exchange"
)

// Config holds one account's venue credentials.
type Config struct {
	UserID    string
	APIKey    string
	APISecret string
	Testnet   bool
}

// Client is the futures adapter for a single account. Symbol filters are
// loaded once at Connect and cached for the life of the handle.
type Client struct {
	userID string
	fc     *futures.Client
	log    *zap.SugaredLogger

	mu      sync.RWMutex
	filters map[string]exchange.Filters
}

// New builds an unconnected client. Testnet flips a package-level switch in
// go-binance, so a process cannot mix testnet and mainnet accounts; config
// validation enforces that before any client is built.
func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	return &Client{
		userID:  cfg.UserID,
		fc:      binance.NewFuturesClient(cfg.APIKey, cfg.APISecret),
		log:     log,
		filters: make(map[string]exchange.Filters),
	}
}

// Connect verifies connectivity and credentials, then caches the venue's
// symbol filters.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.fc.NewPingService().Do(ctx); err != nil {
		return mapErr("ping", err)
	}
	// A signed call proves the credentials before the first order does.
	if _, err := c.fc.NewGetAccountService().Do(ctx); err != nil {
		return mapErr("get account", err)
	}
	if err := c.loadFilters(ctx); err != nil {
		return err
	}
	c.log.Debugw("binance connected", "user", c.userID, "symbols", c.filterCount())
	return nil
}

// Close releases nothing; the underlying client is plain HTTP.
func (c *Client) Close() error { return nil }

func (c *Client) loadFilters(ctx context.Context) error {
	info, err := c.fc.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return mapErr("exchange info", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		f := exchange.Filters{}
		for _, raw := range s.Filters {
			if raw["filterType"] != "LOT_SIZE" {
				continue
			}
			if v, ok := raw["stepSize"].(string); ok {
				f.StepSize, _ = decimal.NewFromString(v)
			}
			if v, ok := raw["minQty"].(string); ok {
				f.MinQty, _ = decimal.NewFromString(v)
			}
		}
		c.filters[s.Symbol] = f
	}
	return nil
}

func (c *Client) filterCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filters)
}

func (c *Client) GetFilters(ctx context.Context, symbol string) (exchange.Filters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	// Newly listed symbol since Connect; refresh once.
	if err := c.loadFilters(ctx); err != nil {
		return exchange.Filters{}, err
	}
	c.mu.RLock()
	f, ok = c.filters[symbol]
	c.mu.RUnlock()
	if !ok {
		return exchange.Filters{}, exchange.NewError(exchange.KindInvalidSymbol,
			fmt.Sprintf("get filters %s", symbol), fmt.Errorf("symbol not listed"))
	}
	return f, nil
}

func (c *Client) GetEquity(ctx context.Context) (decimal.Decimal, error) {
	acct, err := c.fc.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, mapErr("get account", err)
	}
	eq, err := decimal.NewFromString(acct.TotalMarginBalance)
	if err != nil || !eq.IsPositive() {
		return decimal.Zero, exchange.NewError(exchange.KindInvalidEquity,
			fmt.Sprintf("get equity %s", c.userID),
			fmt.Errorf("total margin balance %q", acct.TotalMarginBalance))
	}
	return eq, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := c.fc.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, mapErr("position risk", err)
	}

	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		p, ok := positionFromRisk(r)
		if !ok {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// positionFromRisk converts one position-risk row; flat rows are dropped.
func positionFromRisk(r *futures.PositionRisk) (exchange.Position, bool) {
	amt, err := decimal.NewFromString(r.PositionAmt)
	if err != nil || amt.IsZero() {
		return exchange.Position{}, false
	}

	side := exchange.Buy
	if amt.IsNegative() {
		side = exchange.Sell
		amt = amt.Abs()
	}

	entry, _ := decimal.NewFromString(r.EntryPrice)
	mark, _ := decimal.NewFromString(r.MarkPrice)
	pnl, _ := decimal.NewFromString(r.UnRealizedProfit)
	lev, _ := strconv.Atoi(r.Leverage)

	mode := exchange.MarginCross
	if r.MarginType == "isolated" {
		mode = exchange.MarginIsolated
	}

	return exchange.Position{
		Symbol:        r.Symbol,
		Side:          side,
		Amount:        amt,
		EntryPrice:    entry,
		MarkPrice:     mark,
		Leverage:      lev,
		MarginMode:    mode,
		UnrealizedPnL: pnl,
	}, true
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	op := fmt.Sprintf("place order %s", req.Symbol)

	side := futures.SideTypeBuy
	if req.Side == exchange.Sell {
		side = futures.SideTypeSell
	}

	svc := c.fc.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(req.Amount.String())

	switch req.Type {
	case exchange.Market:
		svc = svc.Type(futures.OrderTypeMarket)
	case exchange.Limit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(req.Price.String()).
			TimeInForce(futures.TimeInForceTypeGTC)
	case exchange.PostOnly:
		// GTX rests post-only and is rejected instead of crossing.
		svc = svc.Type(futures.OrderTypeLimit).
			Price(req.Price.String()).
			TimeInForce(futures.TimeInForceTypeGTX)
	default:
		return exchange.Order{}, exchange.NewError(exchange.KindExchangeRejected, op,
			fmt.Errorf("unsupported order type %q", req.Type))
	}

	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.Order{}, mapErr(op, err)
	}

	return orderFromResponse(req, res), nil
}

func orderFromResponse(req exchange.OrderRequest, res *futures.CreateOrderResponse) exchange.Order {
	amount, err := decimal.NewFromString(res.OrigQuantity)
	if err != nil || amount.IsZero() {
		amount = req.Amount
	}
	price, _ := decimal.NewFromString(res.Price)

	ts := time.Now().UTC()
	if res.UpdateTime > 0 {
		ts = time.UnixMilli(res.UpdateTime).UTC()
	}

	return exchange.Order{
		ID:     strconv.FormatInt(res.OrderID, 10),
		Symbol: res.Symbol,
		Side:   req.Side,
		Type:   req.Type,
		Amount: amount,
		Price:  price,
		Status: string(res.Status),
		Time:   ts,
	}
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := fmt.Sprintf("cancel order %s", symbol)

	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.NewError(exchange.KindExchangeRejected, op,
			fmt.Errorf("order id %q is not numeric", orderID))
	}
	if _, err := c.fc.NewCancelOrderService().Symbol(symbol).OrderID(oid).Do(ctx); err != nil {
		return mapErr(op, err)
	}
	return nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int, mode exchange.MarginMode) error {
	marginType := futures.MarginTypeCrossed
	if mode == exchange.MarginIsolated {
		marginType = futures.MarginTypeIsolated
	}

	err := c.fc.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx)
	if err != nil && !isNoChangeNeeded(err) {
		// The venue refuses mode changes while positions or orders exist.
		var api *common.APIError
		if errors.As(err, &api) {
			return exchange.NewError(exchange.KindUnsupportedMode,
				fmt.Sprintf("change margin type %s", symbol), err)
		}
		return mapErr(fmt.Sprintf("change margin type %s", symbol), err)
	}

	if _, err := c.fc.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return mapErr(fmt.Sprintf("change leverage %s", symbol), err)
	}
	return nil
}

// isNoChangeNeeded recognizes the venue's "already in this margin mode"
// rejection, which is a success for our purposes.
func isNoChangeNeeded(err error) bool {
	var api *common.APIError
	return errors.As(err, &api) && api.Code == -4046
}

// banUntilRe matches the epoch-millisecond ban expiry Binance embeds in
// rate-limit messages.
var banUntilRe = regexp.MustCompile(`banned until (\d+)`)

// banDuration extracts a retry-after hint from a rate-limit message, or zero.
func banDuration(msg string, now time.Time) time.Duration {
	m := banUntilRe.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	d := time.UnixMilli(ms).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// mapErr classifies a venue error for the retry policy. Unknown API
// rejections are terminal; transport-level failures are retryable.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var api *common.APIError
	if errors.As(err, &api) {
		switch api.Code {
		case -1003, -1015: // too many requests / orders
			e := exchange.NewError(exchange.KindRateLimited, op, err)
			if d := banDuration(api.Message, time.Now()); d > 0 {
				e = e.WithRetryAfter(d)
			}
			return e
		case -1001, -1021: // internal error / timestamp outside recv window
			return exchange.NewError(exchange.KindTransient, op, err)
		case -1022, -2014, -2015: // bad signature / key format / key rejected
			return exchange.NewError(exchange.KindAuthFailed, op, err)
		case -1121:
			return exchange.NewError(exchange.KindInvalidSymbol, op, err)
		case -2019: // margin is insufficient
			return exchange.NewError(exchange.KindInsufficientBalance, op, err)
		default:
			return exchange.NewError(exchange.KindExchangeRejected, op, err)
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return exchange.NewError(exchange.KindNetworkTimeout, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exchange.NewError(exchange.KindNetworkTimeout, op, err)
	}
	return exchange.NewError(exchange.KindTransient, op, err)
}
