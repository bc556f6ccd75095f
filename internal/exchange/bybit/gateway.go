package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
)

const settleCoin = "USDT"

// SubmitOrder submits a market order with attached TP/SL trigger prices
func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if req.Symbol == "" {
		return nil, exchange.NewFatalError(exchangeName, 0, "symbol is required")
	}
	if req.Quantity <= 0 {
		return nil, exchange.NewFatalError(exchangeName, 0, "quantity must be positive")
	}

	apiParams := map[string]interface{}{
		"category":  g.category,
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": "Market",
		"qty":       formatFloat(req.Quantity),
	}
	if req.OrderLinkID != "" {
		apiParams["orderLinkId"] = req.OrderLinkID
	}
	if req.TakeProfit > 0 {
		apiParams["takeProfit"] = formatFloat(req.TakeProfit)
	}
	if req.StopLoss > 0 {
		apiParams["stopLoss"] = formatFloat(req.StopLoss)
	}
	if req.ReduceOnly {
		apiParams["reduceOnly"] = true
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}

	var ack struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := decodeResult(result, &ack); err != nil {
		return nil, err
	}

	return &exchange.OrderAck{
		OrderID:     ack.OrderID,
		OrderLinkID: ack.OrderLinkID,
		SubmittedAt: time.Now(),
	}, nil
}

// CancelOrder cancels an order. An order that is already gone counts as
// cancelled; the caller confirms the terminal state via GetOrderStatus.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return wrapTransport(err)
	}
	if err := decodeResult(result, &struct{}{}); err != nil {
		var gwErr *exchange.Error
		if asGatewayError(err, &gwErr) && gwErr.Code == ErrCodeOrderNotFound {
			return nil
		}
		return err
	}
	return nil
}

// GetOrderStatus queries the authoritative status of an order, checking the
// realtime open-order view first and falling back to history for orders that
// already reached a terminal state.
func (g *Gateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}
	status, err := parseOrderList(result, orderID)
	if err != nil {
		return nil, err
	}
	if status != nil {
		return status, nil
	}

	result, err = g.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}
	status, err = parseOrderList(result, orderID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, exchange.NewFatalError(exchangeName, ErrCodeOrderNotFound,
			fmt.Sprintf("order %s not found", orderID))
	}
	return status, nil
}

// RecentOrders returns recent orders for a symbol, newest first
func (g *Gateway) RecentOrders(ctx context.Context, symbol string) ([]exchange.OrderStatus, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"limit":    50,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}
	return parseOrders(result)
}

// GetOpenPositions returns all non-zero positions settled in USDT
func (g *Gateway) GetOpenPositions(ctx context.Context) ([]exchange.PositionInfo, error) {
	params := map[string]interface{}{
		"category":   g.category,
		"settleCoin": settleCoin,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}

	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			LiqPrice      string `json:"liqPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := decodeResult(result, &positionResult); err != nil {
		return nil, err
	}

	var positions []exchange.PositionInfo
	for _, p := range positionResult.List {
		qty := parseFloat(p.Size)
		if qty == 0 {
			continue
		}
		side := "long"
		if p.Side == "Sell" {
			side = "short"
		}
		positions = append(positions, exchange.PositionInfo{
			Symbol:           p.Symbol,
			Side:             side,
			Quantity:         qty,
			EntryPrice:       parseFloat(p.AvgPrice),
			MarkPrice:        parseFloat(p.MarkPrice),
			Leverage:         parseFloat(p.Leverage),
			LiquidationPrice: parseFloat(p.LiqPrice),
			UnrealizedPnL:    parseFloat(p.UnrealisedPnl),
			UpdatedTime:      parseTimestamp(p.UpdatedTime),
		})
	}
	return positions, nil
}

// GetAccountBalance returns USDT equity and available margin from the
// unified account wallet
func (g *Gateway) GetAccountBalance(ctx context.Context) (*exchange.AccountBalance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        settleCoin,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}

	var walletResult struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalInitialMargin    string `json:"totalInitialMargin"`
		} `json:"list"`
	}
	if err := decodeResult(result, &walletResult); err != nil {
		return nil, err
	}
	if len(walletResult.List) == 0 {
		return nil, exchange.NewFatalError(exchangeName, 0, "empty wallet response")
	}

	w := walletResult.List[0]
	return &exchange.AccountBalance{
		Equity:          parseFloat(w.TotalEquity),
		AvailableMargin: parseFloat(w.TotalAvailableBalance),
		UsedMargin:      parseFloat(w.TotalInitialMargin),
		UpdatedTime:     time.Now(),
	}, nil
}

// GetInstrumentLimits returns quantity and notional constraints for a symbol
func (g *Gateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}

	var infoResult struct {
		List []struct {
			Symbol         string `json:"symbol"`
			Status         string `json:"status"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
			LotSizeFilter struct {
				MinNotionalValue string `json:"minNotionalValue"`
				MaxOrderQty      string `json:"maxOrderQty"`
				MinOrderQty      string `json:"minOrderQty"`
				QtyStep          string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := decodeResult(result, &infoResult); err != nil {
		return nil, err
	}

	for _, info := range infoResult.List {
		if info.Symbol != symbol {
			continue
		}
		if info.Status != "Trading" {
			return nil, exchange.NewFatalError(exchangeName, ErrCodeSymbolNotFound,
				fmt.Sprintf("symbol %s status %s", symbol, info.Status))
		}
		return &exchange.InstrumentLimits{
			Symbol:      symbol,
			MinQty:      parseFloat(info.LotSizeFilter.MinOrderQty),
			MaxQty:      parseFloat(info.LotSizeFilter.MaxOrderQty),
			QtyStep:     parseFloat(info.LotSizeFilter.QtyStep),
			MinNotional: parseFloat(info.LotSizeFilter.MinNotionalValue),
			MaxLeverage: parseFloat(info.LeverageFilter.MaxLeverage),
		}, nil
	}
	return nil, exchange.NewFatalError(exchangeName, ErrCodeSymbolNotFound,
		fmt.Sprintf("symbol %s not found", symbol))
}

// SetIsolatedMargin configures one-way position mode and per-symbol leverage.
// Unified accounts carry the isolated margin mode at account level, so the
// per-symbol work is leverage configuration. "Not modified" responses mean
// the symbol is already configured and count as success.
func (g *Gateway) SetIsolatedMargin(ctx context.Context, symbol string, leverage float64) error {
	lev := formatFloat(leverage)

	modeParams := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
		"mode":     0, // one-way
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(modeParams).SwitchPositionMode(ctx)
	if err != nil {
		return wrapTransport(err)
	}
	if err := ignoreNotModified(decodeResult(result, &struct{}{})); err != nil {
		return err
	}

	levParams := map[string]interface{}{
		"category":     g.category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	result, err = g.httpClient.NewUtaBybitServiceWithParams(levParams).SetPositionLeverage(ctx)
	if err != nil {
		return wrapTransport(err)
	}
	return ignoreNotModified(decodeResult(result, &struct{}{}))
}

// SubscribeTicker polls market tickers at a fixed cadence and streams them
// until ctx is cancelled. Polling keeps the reference-price path on the same
// authenticated REST client as every other call.
func (g *Gateway) SubscribeTicker(ctx context.Context, symbol string) (<-chan exchange.Ticker, error) {
	// Verify the symbol before spawning the poller
	if _, err := g.fetchTicker(ctx, symbol); err != nil {
		return nil, err
	}

	out := make(chan exchange.Ticker, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick, err := g.fetchTicker(ctx, symbol)
				if err != nil {
					continue
				}
				select {
				case out <- *tick:
				default:
					// Slow consumer keeps only the freshest prices
				}
			}
		}
	}()
	return out, nil
}

func (g *Gateway) fetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, wrapTransport(err)
	}

	var tickerResult struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	if err := decodeResult(result, &tickerResult); err != nil {
		return nil, err
	}
	if len(tickerResult.List) == 0 {
		return nil, exchange.NewFatalError(exchangeName, ErrCodeSymbolNotFound,
			fmt.Sprintf("no ticker for %s", symbol))
	}

	t := tickerResult.List[0]
	return &exchange.Ticker{
		Symbol:    t.Symbol,
		LastPrice: parseFloat(t.LastPrice),
		MarkPrice: parseFloat(t.MarkPrice),
		Timestamp: time.Now(),
	}, nil
}

// decodeResult validates the server envelope and unmarshals Result into v
func decodeResult(response interface{}, v interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return exchange.NewFatalError(exchangeName, 0, "invalid response type")
	}
	if err := classifyRetCode(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return err
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return exchange.NewFatalError(exchangeName, 0, fmt.Sprintf("marshal result: %v", err))
	}
	if err := json.Unmarshal(resultBytes, v); err != nil {
		return exchange.NewFatalError(exchangeName, 0, fmt.Sprintf("unmarshal result: %v", err))
	}
	return nil
}

// parseOrders extracts all order statuses from an order list response
func parseOrders(response interface{}) ([]exchange.OrderStatus, error) {
	var listResult struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			ReduceOnly  bool   `json:"reduceOnly"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := decodeResult(response, &listResult); err != nil {
		return nil, err
	}

	orders := make([]exchange.OrderStatus, 0, len(listResult.List))
	for _, o := range listResult.List {
		orders = append(orders, exchange.OrderStatus{
			OrderID:     o.OrderID,
			Symbol:      o.Symbol,
			Side:        exchange.OrderSide(o.Side),
			State:       exchange.OrderState(o.OrderStatus),
			FilledQty:   parseFloat(o.CumExecQty),
			AvgPrice:    parseFloat(o.AvgPrice),
			ReduceOnly:  o.ReduceOnly,
			UpdatedTime: parseTimestamp(o.UpdatedTime),
		})
	}
	return orders, nil
}

// parseOrderList extracts the status of orderID from an order list response,
// returning nil when the order is absent
func parseOrderList(response interface{}, orderID string) (*exchange.OrderStatus, error) {
	orders, err := parseOrders(response)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].OrderID == orderID {
			return &orders[i], nil
		}
	}
	return nil, nil
}

func ignoreNotModified(err error) error {
	var gwErr *exchange.Error
	if asGatewayError(err, &gwErr) {
		if gwErr.Code == ErrCodeLeverageNotModified || strings.Contains(strings.ToLower(gwErr.Message), "not modified") {
			return nil
		}
	}
	return err
}

func asGatewayError(err error, target **exchange.Error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*exchange.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseTimestamp converts a milliseconds timestamp to time.Time
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
