package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/pkg/utils"
)

// TradeXYZClient клиент TradeXYZ (perpetual futures поверх Hyperliquid-style
// API): чтения через POST /info с типизированным телом, действия через
// POST /exchange с подписанным конвертом.
type TradeXYZClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
	limiter   *RateLimiter
	breaker   *Breaker

	simulated bool
	paper     *paperBook

	mu        sync.RWMutex
	connected bool

	cacheMu     sync.Mutex
	marketCache map[string]cachedMarket
}

type xyzAssetCtx struct {
	Coin         string `json:"coin"`
	MarkPx       string `json:"markPx"`
	OraclePx     string `json:"oraclePx"`
	MidPx        string `json:"midPx"`
	ImpactBidPx  string `json:"impactBidPx"`
	ImpactAskPx  string `json:"impactAskPx"`
	Funding      string `json:"funding"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	MinSz        string `json:"minSz"`
}

type xyzStateResponse struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin     string `json:"coin"`
			Szi      string `json:"szi"`
			EntryPx  string `json:"entryPx"`
			LiquidationPx string `json:"liquidationPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
			MarginUsed    string `json:"marginUsed"`
			Leverage      struct {
				Value int `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

type xyzActionResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []struct {
				Filled *struct {
					Oid     int64  `json:"oid"`
					TotalSz string `json:"totalSz"`
					AvgPx   string `json:"avgPx"`
				} `json:"filled"`
				Resting *struct {
					Oid int64 `json:"oid"`
				} `json:"resting"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

// NewTradeXYZClient создаёт клиент TradeXYZ
func NewTradeXYZClient(apiKey, apiSecret, baseURL string, requestsPerMinute int, timeout time.Duration, simulated bool, simBalance float64) *TradeXYZClient {
	return &TradeXYZClient{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		limiter:     NewRateLimiter(requestsPerMinute),
		breaker:     NewBreaker("tradexyz"),
		simulated:   simulated,
		paper:       newPaperBook(simBalance),
		marketCache: make(map[string]cachedMarket),
	}
}

func (t *TradeXYZClient) Name() domain.ExchangeName {
	return domain.ExchangeTradeXYZ
}

// Symbol переводит токен в символ TradeXYZ ("BTC" -> "BTC")
func (t *TradeXYZClient) Symbol(token string) (string, error) {
	return symbolFor(domain.TradeXYZMarkets, token)
}

// Connect проверяет доступность биржи запросом рыночных данных
func (t *TradeXYZClient) Connect(ctx context.Context) error {
	symbol, err := t.Symbol(domain.SupportedTokens[0])
	if err != nil {
		return err
	}
	if _, err := t.fetchMarketInfo(ctx, symbol); err != nil {
		return fmt.Errorf("tradexyz connect failed: %w", err)
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *TradeXYZClient) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

func (t *TradeXYZClient) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.breaker.Healthy()
}

// GetMarketInfo получает рыночные данные инструмента с коротким TTL-кэшем
func (t *TradeXYZClient) GetMarketInfo(ctx context.Context, symbol string) (*domain.MarketInfo, error) {
	t.cacheMu.Lock()
	if cached, ok := t.marketCache[symbol]; ok && time.Since(cached.fetchedAt) < marketCacheTTL {
		t.cacheMu.Unlock()
		return cached.info, nil
	}
	t.cacheMu.Unlock()

	var info *domain.MarketInfo
	err := utils.RetryRead(ctx, func() error {
		var err error
		info, err = t.fetchMarketInfo(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}

	t.cacheMu.Lock()
	t.marketCache[symbol] = cachedMarket{info: info, fetchedAt: time.Now()}
	t.cacheMu.Unlock()
	return info, nil
}

func (t *TradeXYZClient) fetchMarketInfo(ctx context.Context, symbol string) (*domain.MarketInfo, error) {
	body, err := t.doInfo(ctx, map[string]interface{}{
		"type": "assetCtx",
		"coin": symbol,
	})
	if err != nil {
		return nil, err
	}

	var ctxResp xyzAssetCtx
	if err := json.Unmarshal(body, &ctxResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset ctx: %w", err)
	}
	if ctxResp.Coin == "" {
		return nil, fmt.Errorf("%w: no market data for %s", domain.ErrExchangeAPI, symbol)
	}

	mark, err := parseFloat(ctxResp.MarkPx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mark price for %s: %w", symbol, err)
	}
	oracle, _ := parseFloat(ctxResp.OraclePx)
	mid, _ := parseFloat(ctxResp.MidPx)
	bid, _ := parseFloat(ctxResp.ImpactBidPx)
	ask, _ := parseFloat(ctxResp.ImpactAskPx)
	funding, _ := parseFloat(ctxResp.Funding)
	minSz, _ := parseFloat(ctxResp.MinSz)

	sizeStep := 1.0
	for i := 0; i < ctxResp.SzDecimals; i++ {
		sizeStep /= 10
	}

	// Funding начисляется в начале каждого интервала
	now := time.Now().UTC()
	next := now.Truncate(domain.FundingInterval).Add(domain.FundingInterval)

	return &domain.MarketInfo{
		Symbol:          symbol,
		MarkPrice:       mark,
		IndexPrice:      oracle,
		LastPrice:       mid,
		BidPrice:        bid,
		AskPrice:        ask,
		FundingRate:     funding,
		NextFundingTime: next,
		MinOrderSize:    minSz,
		SizeStep:        sizeStep,
		MaxLeverage:     ctxResp.MaxLeverage,
	}, nil
}

// GetBalance получает баланс аккаунта
func (t *TradeXYZClient) GetBalance(ctx context.Context) (*domain.BalanceSnapshot, error) {
	if t.simulated {
		return t.paper.snapshot("USDC"), nil
	}

	var snap *domain.BalanceSnapshot
	err := utils.RetryRead(ctx, func() error {
		state, err := t.fetchState(ctx)
		if err != nil {
			return err
		}

		available, err := parseFloat(state.Withdrawable)
		if err != nil {
			return fmt.Errorf("failed to parse withdrawable: %w", err)
		}
		equity, err := parseFloat(state.MarginSummary.AccountValue)
		if err != nil {
			return fmt.Errorf("failed to parse account value: %w", err)
		}
		marginUsed, err := parseFloat(state.MarginSummary.TotalMarginUsed)
		if err != nil {
			return fmt.Errorf("failed to parse margin used: %w", err)
		}

		snap = &domain.BalanceSnapshot{
			Available:  available,
			Equity:     equity,
			MarginUsed: marginUsed,
			Currency:   "USDC",
		}
		return nil
	})
	return snap, err
}

// GetPositions получает открытые позиции (все при пустом symbol).
// Направление кодируется знаком размера: szi < 0 это шорт.
func (t *TradeXYZClient) GetPositions(ctx context.Context, symbol string) ([]domain.PositionInfo, error) {
	if t.simulated {
		return t.paper.list(symbol), nil
	}

	var positions []domain.PositionInfo
	err := utils.RetryRead(ctx, func() error {
		state, err := t.fetchState(ctx)
		if err != nil {
			return err
		}

		positions = positions[:0]
		for _, ap := range state.AssetPositions {
			p := ap.Position
			if symbol != "" && p.Coin != symbol {
				continue
			}
			szi, err := parseFloat(p.Szi)
			if err != nil || szi == 0 {
				continue
			}

			side := domain.SideLong
			size := szi
			if szi < 0 {
				side = domain.SideShort
				size = -szi
			}
			entry, _ := parseFloat(p.EntryPx)
			liq, _ := parseFloat(p.LiquidationPx)
			pnl, _ := parseFloat(p.UnrealizedPnl)
			margin, _ := parseFloat(p.MarginUsed)

			positions = append(positions, domain.PositionInfo{
				Symbol:           p.Coin,
				Side:             side,
				Size:             size,
				EntryPrice:       entry,
				LiquidationPrice: liq,
				UnrealizedPnL:    pnl,
				Leverage:         p.Leverage.Value,
				MarginUsed:       margin,
			})
		}
		return nil
	})
	return positions, err
}

func (t *TradeXYZClient) fetchState(ctx context.Context) (*xyzStateResponse, error) {
	body, err := t.doInfo(ctx, map[string]interface{}{
		"type": "clearinghouseState",
		"user": t.apiKey,
	})
	if err != nil {
		return nil, err
	}

	var state xyzStateResponse
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state response: %w", err)
	}
	return &state, nil
}

// PlaceOrder размещает ордер. Не ретраится: каждая попытка должна
// приходить с новым ExternalID (cloid).
func (t *TradeXYZClient) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderResult, error) {
	if t.simulated {
		price := req.Price
		if info, err := t.GetMarketInfo(ctx, req.Symbol); err == nil {
			price = info.MarkPrice
		}
		return t.paper.fill(req, price)
	}

	order := map[string]interface{}{
		"coin":       req.Symbol,
		"isBuy":      req.Side == domain.SideLong,
		"sz":         fmt.Sprintf("%.8f", req.Quantity),
		"reduceOnly": req.ReduceOnly,
		"orderType":  orderTypeXYZ(req),
	}
	if req.Price > 0 {
		order["limitPx"] = fmt.Sprintf("%.8f", req.Price)
	}
	if req.ExternalID != "" {
		order["cloid"] = "0x" + req.ExternalID
	}

	body, err := t.doAction(ctx, map[string]interface{}{
		"type":   "order",
		"orders": []interface{}{order},
	})
	if err != nil {
		return nil, err
	}

	var resp xyzActionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order response: %w", err)
	}
	if resp.Status != "ok" || len(resp.Response.Data.Statuses) == 0 {
		return nil, fmt.Errorf("%w: order action failed", domain.ErrExchangeAPI)
	}

	status := resp.Response.Data.Statuses[0]
	if status.Error != "" {
		return &domain.OrderResult{
			Success:    false,
			ExternalID: req.ExternalID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Quantity:   req.Quantity,
			Status:     domain.StatusRejected,
			ErrorMsg:   status.Error,
			CreatedAt:  time.Now(),
		}, fmt.Errorf("%w: %s", domain.ErrExchangeAPI, status.Error)
	}

	result := &domain.OrderResult{
		Success:    true,
		ExternalID: req.ExternalID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Status:     domain.StatusNew,
		CreatedAt:  time.Now(),
	}
	if status.Filled != nil {
		result.OrderID = strconv.FormatInt(status.Filled.Oid, 10)
		result.FilledQty, _ = parseFloat(status.Filled.TotalSz)
		result.AvgPrice, _ = parseFloat(status.Filled.AvgPx)
		result.Status = domain.StatusFilled
	} else if status.Resting != nil {
		result.OrderID = strconv.FormatInt(status.Resting.Oid, 10)
	}
	return result, nil
}

// CancelOrder отменяет ордер по ID
func (t *TradeXYZClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if t.simulated {
		return nil
	}

	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	_, err = t.doAction(ctx, map[string]interface{}{
		"type": "cancel",
		"cancels": []interface{}{
			map[string]interface{}{"coin": symbol, "oid": oid},
		},
	})
	return err
}

// CancelAllOrders отменяет все открытые ордера и возвращает их число
func (t *TradeXYZClient) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	if t.simulated {
		return 0, nil
	}

	action := map[string]interface{}{"type": "cancelAll"}
	if symbol != "" {
		action["coin"] = symbol
	}
	body, err := t.doAction(ctx, action)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Status   string `json:"status"`
		Response struct {
			Data struct {
				Cancelled int `json:"cancelled"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to unmarshal cancel response: %w", err)
	}
	if resp.Status != "ok" {
		return 0, fmt.Errorf("%w: cancel all failed", domain.ErrExchangeAPI)
	}
	return resp.Response.Data.Cancelled, nil
}

// ClosePosition закрывает позицию reduce-only рыночным ордером
func (t *TradeXYZClient) ClosePosition(ctx context.Context, symbol string, qty float64) (*domain.OrderResult, error) {
	if t.simulated {
		price := 0.0
		if info, err := t.GetMarketInfo(ctx, symbol); err == nil {
			price = info.MarkPrice
		}
		return t.paper.closeAt(symbol, qty, price)
	}

	positions, err := t.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: no open position for %s", domain.ErrExchangeAPI, symbol)
	}

	pos := positions[0]
	if qty <= 0 || qty > pos.Size {
		qty = pos.Size
	}
	return t.PlaceOrder(ctx, &domain.OrderRequest{
		Symbol:      symbol,
		Side:        pos.Side.Opposite(),
		Quantity:    qty,
		Type:        domain.OrderTypeMarket,
		ReduceOnly:  true,
		TimeInForce: domain.TIFImmediateOrCancel,
		ExternalID:  fmt.Sprintf("%032x", time.Now().UnixNano()),
	})
}

// SetLeverage устанавливает плечо для инструмента
func (t *TradeXYZClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if t.simulated {
		t.paper.setLeverage(symbol, leverage)
		return nil
	}

	_, err := t.doAction(ctx, map[string]interface{}{
		"type":     "updateLeverage",
		"coin":     symbol,
		"isCross":  true,
		"leverage": leverage,
	})
	return err
}

// GetLeverage возвращает текущее плечо инструмента
func (t *TradeXYZClient) GetLeverage(ctx context.Context, symbol string) (int, error) {
	if t.simulated {
		return t.paper.getLeverage(symbol), nil
	}

	positions, err := t.GetPositions(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if len(positions) > 0 {
		return positions[0].Leverage, nil
	}
	return 0, nil
}

// doInfo выполняет read-запрос POST /info
func (t *TradeXYZClient) doInfo(ctx context.Context, payload map[string]interface{}) ([]byte, error) {
	return t.post(ctx, "/info", payload, false)
}

// doAction выполняет подписанное действие POST /exchange
func (t *TradeXYZClient) doAction(ctx context.Context, action map[string]interface{}) ([]byte, error) {
	envelope := map[string]interface{}{
		"action": action,
		"nonce":  time.Now().UnixMilli(),
	}
	return t.post(ctx, "/exchange", envelope, true)
}

func (t *TradeXYZClient) post(ctx context.Context, endpoint string, payload map[string]interface{}, signed bool) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpoint, strings.NewReader(string(jsonData)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		h := hmac.New(sha256.New, []byte(t.apiSecret))
		h.Write(jsonData)
		req.Header.Set("X-Account", t.apiKey)
		req.Header.Set("X-Signature", hex.EncodeToString(h.Sum(nil)))
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := t.breaker.Execute(func() (interface{}, error) {
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrTransport, err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: HTTP %d", domain.ErrTransport, resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func orderTypeXYZ(req *domain.OrderRequest) map[string]interface{} {
	if req.Type == domain.OrderTypeLimit {
		return map[string]interface{}{
			"limit": map[string]interface{}{"tif": string(req.TimeInForce)},
		}
	}
	return map[string]interface{}{
		"market": map[string]interface{}{},
	}
}
