// Package broker is the top-level client facade. It wires the credential
// provider, the shared rate limiter, the gateway transport, and the symbol
// resolver, and dispatches each call to the domestic or overseas API by
// market.
package broker

import (
	"context"
	"fmt"
	"time"

	"KisBridge/internal/auth"
	"KisBridge/internal/domestic"
	"KisBridge/internal/model"
	"KisBridge/internal/overseas"
	"KisBridge/internal/ratelimit"
	"KisBridge/internal/symbols"
	"KisBridge/internal/transport"
)

// SymbolResolver maps (market, ticker) to a tradable symbol.
type SymbolResolver interface {
	Resolve(ctx context.Context, market, ticker string) (model.Symbol, error)
}

// marketDefaults carries the per-market account scoping used by the
// account endpoints.
type marketDefaults struct {
	orderExchange string
	currency      string
}

var accountDefaults = map[string]marketDefaults{
	"US": {orderExchange: "NASD", currency: "USD"},
	"HK": {orderExchange: "SEHK", currency: "HKD"},
	"JP": {orderExchange: "TKSE", currency: "JPY"},
	"CN": {orderExchange: "SHAA", currency: "CNY"},
	"VN": {orderExchange: "VNSE", currency: "VND"},
}

// GranularityMinute selects intraday minute bars; every other granularity
// value is passed to the chart endpoints as the period code.
const GranularityMinute = "min"

// HistoryRequest selects an OHLCV history.
type HistoryRequest struct {
	Symbol string
	// Market is "KR" or an overseas market code ("US", "HK", ...).
	Market string
	Start  *time.Time
	End    time.Time
	// Granularity is "D", "W", "M", "Y", or GranularityMinute.
	Granularity string
	Adjust      bool
	Ascending   bool
	Limit       int
}

// OrdersRequest selects an execution-history range.
type OrdersRequest struct {
	Start time.Time
	End   time.Time
	// OrderID seeks one order and stops on the page containing it.
	OrderID   string
	Ascending bool
	Limit     int
}

// Options tunes client construction.
type Options struct {
	ProxyURL string
	// Symbols overrides the default resolver, letting the caller share
	// one service with a background refresher. If nil a cache-less
	// service is built.
	Symbols *symbols.Service
	// Limiter overrides the default 19 req/s limiter. All gateway calls
	// of one process should share a single limiter.
	Limiter *ratelimit.Limiter
}

// Client is the public API surface.
type Client struct {
	Creds   auth.Credentials
	Symbols SymbolResolver

	domQuote *domestic.Quote
	domOrder *domestic.Order
	ovsQuote *overseas.Quote
	ovsOrder *overseas.Order
	ovsAcct  *overseas.Account
}

// New validates the credentials and wires the full client.
func New(creds auth.Credentials, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewDefault()
	}
	resolver := opts.Symbols
	if resolver == nil {
		resolver = symbols.NewService(nil)
	}
	provider := auth.NewProvider(creds, opts.ProxyURL)
	tr := transport.New(creds.BaseURL(), provider, limiter, opts.ProxyURL)
	return newClient(creds, tr, resolver), nil
}

func newClient(creds auth.Credentials, tr *transport.Transport, resolver SymbolResolver) *Client {
	return &Client{
		Creds:    creds,
		Symbols:  resolver,
		domQuote: domestic.NewQuote(tr),
		domOrder: domestic.NewOrder(tr, creds),
		ovsQuote: overseas.NewQuote(tr),
		ovsOrder: overseas.NewOrder(tr, creds),
		ovsAcct:  overseas.NewAccount(tr, creds),
	}
}

// Price returns the current price as the upstream's decimal string.
func (c *Client) Price(ctx context.Context, market, symbol string) (string, error) {
	if market == "KR" {
		return c.domQuote.Price(ctx, symbol)
	}
	sym, err := c.Symbols.Resolve(ctx, market, symbol)
	if err != nil {
		return "", err
	}
	return c.ovsQuote.Price(ctx, sym.ExchangeCode, sym.Ticker)
}

// FetchHistory assembles an OHLCV history across as many upstream pages
// as the window needs. Calling it twice with identical arguments against
// an unchanged upstream yields identical output.
func (c *Client) FetchHistory(ctx context.Context, req HistoryRequest) ([]model.OHLCV, error) {
	if req.Market == "KR" {
		return c.domesticHistory(ctx, req)
	}
	sym, err := c.Symbols.Resolve(ctx, req.Market, req.Symbol)
	if err != nil {
		return nil, err
	}
	if req.Granularity == GranularityMinute {
		return c.ovsQuote.MinuteBars(ctx, overseas.MinuteQuery{
			Symbol:    sym.Ticker,
			Exchange:  sym.ExchangeCode,
			Start:     req.Start,
			End:       req.End,
			Ascending: req.Ascending,
			Limit:     req.Limit,
		})
	}
	return c.ovsQuote.History(ctx, overseas.HistoryQuery{
		Symbol:    sym.Ticker,
		Exchange:  sym.ExchangeCode,
		Start:     req.Start,
		End:       req.End,
		Period:    req.Granularity,
		Adjust:    req.Adjust,
		Ascending: req.Ascending,
		Limit:     req.Limit,
	})
}

func (c *Client) domesticHistory(ctx context.Context, req HistoryRequest) ([]model.OHLCV, error) {
	if req.Granularity == GranularityMinute {
		// The domestic minute endpoint serves the current session only.
		bars, err := c.domQuote.MinuteBars(ctx, req.Symbol, "", false)
		if err != nil {
			return nil, err
		}
		if req.Limit > 0 && len(bars) > req.Limit {
			bars = bars[:req.Limit]
		}
		if req.Ascending {
			for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
				bars[i], bars[j] = bars[j], bars[i]
			}
		}
		return bars, nil
	}
	return c.domQuote.History(ctx, domestic.HistoryQuery{
		Symbol:    req.Symbol,
		Start:     req.Start,
		End:       req.End,
		Period:    req.Granularity,
		Adjust:    req.Adjust,
		Ascending: req.Ascending,
		Limit:     req.Limit,
	})
}

// FetchOrders returns the overseas execution history for the window.
func (c *Client) FetchOrders(ctx context.Context, req OrdersRequest) ([]model.Order, error) {
	return c.ovsOrder.Executions(ctx, overseas.ExecutionQuery{
		Start:     req.Start,
		End:       req.End,
		OrderID:   req.OrderID,
		Ascending: req.Ascending,
		Limit:     req.Limit,
	})
}

// FetchAccountSummary composes balance, positions, and pending orders for
// one market into a decimal-exact snapshot.
func (c *Client) FetchAccountSummary(ctx context.Context, market string) (model.AccountSummary, error) {
	d, ok := accountDefaults[market]
	if !ok {
		return model.AccountSummary{}, fmt.Errorf("unknown market %q", market)
	}
	return c.ovsAcct.Summary(ctx, d.orderExchange, d.currency, "")
}

// Buy places a buy order and returns the upstream receipt.
func (c *Client) Buy(ctx context.Context, market, symbol string, quantity int, price string) (model.OrderReceipt, error) {
	if market == "KR" {
		return c.domOrder.Buy(ctx, symbol, quantity, price)
	}
	sym, err := c.Symbols.Resolve(ctx, market, symbol)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	return c.ovsOrder.Buy(ctx, symbols.OrderExchangeCode(sym.ExchangeCode), sym.Ticker, quantity, price)
}

// Sell places a sell order.
func (c *Client) Sell(ctx context.Context, market, symbol string, quantity int, price string) (model.OrderReceipt, error) {
	if market == "KR" {
		return c.domOrder.Sell(ctx, symbol, quantity, price)
	}
	sym, err := c.Symbols.Resolve(ctx, market, symbol)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	return c.ovsOrder.Sell(ctx, symbols.OrderExchangeCode(sym.ExchangeCode), sym.Ticker, quantity, price)
}

// Update revises an open overseas order. The domestic gateway has no
// revise endpoint in this client.
func (c *Client) Update(ctx context.Context, market, symbol, orderNo string, quantity int, price string) (model.OrderReceipt, error) {
	if market == "KR" {
		return model.OrderReceipt{}, fmt.Errorf("order revision is not supported for market %q", market)
	}
	sym, err := c.Symbols.Resolve(ctx, market, symbol)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	return c.ovsOrder.Update(ctx, symbols.OrderExchangeCode(sym.ExchangeCode), sym.Ticker, orderNo, quantity, price)
}

// Cancel cancels an open overseas order.
func (c *Client) Cancel(ctx context.Context, market, symbol, orderNo string) (model.OrderReceipt, error) {
	if market == "KR" {
		return model.OrderReceipt{}, fmt.Errorf("order cancellation is not supported for market %q", market)
	}
	sym, err := c.Symbols.Resolve(ctx, market, symbol)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	return c.ovsOrder.Cancel(ctx, symbols.OrderExchangeCode(sym.ExchangeCode), sym.Ticker, orderNo)
}
