package exchange

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kirillm/delta-bot/internal/domain"
)

// paperBook учёт балансов и позиций в режиме симуляции. Ордеры
// исполняются мгновенно по переданной цене, маржа резервируется
// и освобождается как на реальной бирже.
type paperBook struct {
	mu        sync.Mutex
	balance   float64
	positions map[string]*domain.PositionInfo
	leverage  map[string]int
	seq       int64
}

func newPaperBook(startBalance float64) *paperBook {
	return &paperBook{
		balance:   startBalance,
		positions: make(map[string]*domain.PositionInfo),
		leverage:  make(map[string]int),
	}
}

func (p *paperBook) nextOrderID() string {
	p.seq++
	return "sim-" + strconv.FormatInt(p.seq, 10)
}

func (p *paperBook) snapshot(currency string) *domain.BalanceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	marginUsed := 0.0
	for _, pos := range p.positions {
		marginUsed += pos.MarginUsed
	}
	return &domain.BalanceSnapshot{
		Available:  p.balance - marginUsed,
		Equity:     p.balance,
		MarginUsed: marginUsed,
		Currency:   currency,
	}
}

func (p *paperBook) list(symbol string) []domain.PositionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.PositionInfo
	for sym, pos := range p.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		out = append(out, *pos)
	}
	return out
}

func (p *paperBook) setLeverage(symbol string, leverage int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
}

func (p *paperBook) getLeverage(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lev, ok := p.leverage[symbol]; ok {
		return lev
	}
	return 1
}

// fill мгновенно исполняет ордер по цене price
func (p *paperBook) fill(req *domain.OrderRequest, price float64) (*domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if price <= 0 {
		price = req.Price
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: no fill price available for %s", domain.ErrExchangeAPI, req.Symbol)
	}

	leverage := req.Leverage
	if leverage <= 0 {
		if lev, ok := p.leverage[req.Symbol]; ok {
			leverage = lev
		} else {
			leverage = 1
		}
	}

	margin := req.Quantity * price / float64(leverage)
	marginUsed := 0.0
	for _, pos := range p.positions {
		marginUsed += pos.MarginUsed
	}
	if !req.ReduceOnly && p.balance-marginUsed < margin {
		return nil, fmt.Errorf("%w: need %.2f, available %.2f",
			domain.ErrInsufficientBalance, margin, p.balance-marginUsed)
	}

	if req.ReduceOnly {
		p.reduce(req.Symbol, req.Quantity, price)
	} else {
		p.positions[req.Symbol] = &domain.PositionInfo{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Size:       req.Quantity,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   leverage,
			MarginUsed: margin,
		}
	}

	return &domain.OrderResult{
		Success:    true,
		OrderID:    p.nextOrderID(),
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

// closeAt закрывает позицию (целиком при qty <= 0) по цене price
func (p *paperBook) closeAt(symbol string, qty, price float64) (*domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no open position for %s", domain.ErrExchangeAPI, symbol)
	}
	if qty <= 0 || qty > pos.Size {
		qty = pos.Size
	}
	if price <= 0 {
		price = pos.MarkPrice
	}

	side := pos.Side.Opposite()
	p.reduce(symbol, qty, price)

	return &domain.OrderResult{
		Success:   true,
		OrderID:   p.nextOrderID(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		FilledQty: qty,
		AvgPrice:  price,
		Status:    domain.StatusFilled,
		CreatedAt: time.Now(),
	}, nil
}

// reduce уменьшает позицию и реализует PnL; вызывается под мьютексом
func (p *paperBook) reduce(symbol string, qty, price float64) {
	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	if qty > pos.Size {
		qty = pos.Size
	}

	direction := 1.0
	if pos.Side == domain.SideShort {
		direction = -1.0
	}
	p.balance += (price - pos.EntryPrice) * qty * direction

	pos.Size -= qty
	if pos.Size <= 0 {
		delete(p.positions, symbol)
		return
	}
	pos.MarginUsed = pos.Size * pos.EntryPrice / float64(pos.Leverage)
}
