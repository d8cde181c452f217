package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kirillm/delta-bot/internal/domain"
)

// Sim детерминированная биржа для тестов: отдаёт заранее заданные
// данные, исполняет ордеры мгновенно и записывает все вызовы.
// Ошибки скриптуются через Fail; задержка исполнения через PlaceDelay.
type Sim struct {
	name domain.ExchangeName

	// PlaceDelay задержка перед исполнением PlaceOrder, для проверки таймаутов
	PlaceDelay time.Duration

	mu        sync.Mutex
	connected bool
	markets   map[string]*domain.MarketInfo
	balance   domain.BalanceSnapshot
	positions map[string]*domain.PositionInfo
	leverage  map[string]int
	failures  map[string]error
	calls     map[string]int
	seq       int
}

// NewSim создаёт симулятор биржи с балансом balance
func NewSim(name domain.ExchangeName, balance float64) *Sim {
	return &Sim{
		name: name,
		balance: domain.BalanceSnapshot{
			Available: balance,
			Equity:    balance,
			Currency:  "USD",
		},
		markets:   make(map[string]*domain.MarketInfo),
		positions: make(map[string]*domain.PositionInfo),
		leverage:  make(map[string]int),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// SetMarket задаёт рыночные данные инструмента
func (s *Sim) SetMarket(symbol string, info domain.MarketInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info.Symbol = symbol
	s.markets[symbol] = &info
}

// SetBalance задаёт баланс аккаунта
func (s *Sim) SetBalance(b domain.BalanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = b
}

// SetPosition задаёт открытую позицию напрямую, минуя ордер
func (s *Sim) SetPosition(p domain.PositionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.positions[p.Symbol] = &cp
}

// RemovePosition удаляет позицию
func (s *Sim) RemovePosition(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
}

// Fail скриптует ошибку метода; err == nil снимает её
func (s *Sim) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// CallCount возвращает число вызовов метода
func (s *Sim) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Sim) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	return s.failures[method]
}

func (s *Sim) Name() domain.ExchangeName {
	return s.name
}

func (s *Sim) Connect(ctx context.Context) error {
	if err := s.record("Connect"); err != nil {
		return err
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Sim) Disconnect(ctx context.Context) error {
	s.record("Disconnect")
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, failed := s.failures["IsConnected"]; failed {
		return false
	}
	return s.connected
}

func (s *Sim) Symbol(token string) (string, error) {
	// Символ совпадает с токеном: симулятору не нужен маппинг
	return token, nil
}

func (s *Sim) GetMarketInfo(ctx context.Context, symbol string) (*domain.MarketInfo, error) {
	if err := s.record("GetMarketInfo"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no market %s", domain.ErrExchangeAPI, symbol)
	}
	cp := *info
	return &cp, nil
}

func (s *Sim) GetBalance(ctx context.Context) (*domain.BalanceSnapshot, error) {
	if err := s.record("GetBalance"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.balance
	return &cp, nil
}

func (s *Sim) GetPositions(ctx context.Context, symbol string) ([]domain.PositionInfo, error) {
	if err := s.record("GetPositions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PositionInfo
	for sym, pos := range s.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		out = append(out, *pos)
	}
	return out, nil
}

func (s *Sim) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderResult, error) {
	if s.PlaceDelay > 0 {
		timer := time.NewTimer(s.PlaceDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, ctx.Err())
		}
	}

	if err := s.record("PlaceOrder"); err != nil {
		return &domain.OrderResult{
			Success:    false,
			ExternalID: req.ExternalID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Quantity:   req.Quantity,
			Status:     domain.StatusRejected,
			ErrorMsg:   err.Error(),
			CreatedAt:  time.Now(),
		}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price := req.Price
	if info, ok := s.markets[req.Symbol]; ok && info.MarkPrice > 0 {
		price = info.MarkPrice
	}

	if req.ReduceOnly {
		if pos, ok := s.positions[req.Symbol]; ok {
			pos.Size -= req.Quantity
			if pos.Size <= 0 {
				delete(s.positions, req.Symbol)
			}
		}
	} else {
		leverage := req.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		s.positions[req.Symbol] = &domain.PositionInfo{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Size:       req.Quantity,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   leverage,
			MarginUsed: req.Quantity * price / float64(leverage),
		}
	}

	s.seq++
	return &domain.OrderResult{
		Success:    true,
		OrderID:    "sim-" + strconv.Itoa(s.seq),
		ExternalID: req.ExternalID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		FilledQty:  req.Quantity,
		AvgPrice:   price,
		Status:     domain.StatusFilled,
		CreatedAt:  time.Now(),
	}, nil
}

func (s *Sim) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return s.record("CancelOrder")
}

func (s *Sim) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	if err := s.record("CancelAllOrders"); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *Sim) ClosePosition(ctx context.Context, symbol string, qty float64) (*domain.OrderResult, error) {
	if err := s.record("ClosePosition"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no open position for %s", domain.ErrExchangeAPI, symbol)
	}
	if qty <= 0 || qty > pos.Size {
		qty = pos.Size
	}

	price := pos.MarkPrice
	if info, ok := s.markets[symbol]; ok && info.MarkPrice > 0 {
		price = info.MarkPrice
	}

	side := pos.Side.Opposite()
	pos.Size -= qty
	if pos.Size <= 0 {
		delete(s.positions, symbol)
	}

	s.seq++
	return &domain.OrderResult{
		Success:   true,
		OrderID:   "sim-" + strconv.Itoa(s.seq),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		FilledQty: qty,
		AvgPrice:  price,
		Status:    domain.StatusFilled,
		CreatedAt: time.Now(),
	}, nil
}

func (s *Sim) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := s.record("SetLeverage"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage[symbol] = leverage
	return nil
}

func (s *Sim) GetLeverage(ctx context.Context, symbol string) (int, error) {
	if err := s.record("GetLeverage"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leverage[symbol], nil
}
