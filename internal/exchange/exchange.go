package exchange

import (
	"context"
	"fmt"

	"github.com/kirillm/delta-bot/internal/domain"
)

// Exchange интерфейс биржи perpetual futures. Одна реализация на биржу
// плюс детерминированный Sim для тестов. Любой метод может вернуть
// transient-ошибку (domain.ErrTransport, ретраится для чтений) или отказ
// биржи (domain.ErrExchangeAPI, не ретраится).
type Exchange interface {
	Name() domain.ExchangeName

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Symbol переводит токен в символ инструмента этой биржи
	Symbol(token string) (string, error)

	GetMarketInfo(ctx context.Context, symbol string) (*domain.MarketInfo, error)
	GetBalance(ctx context.Context) (*domain.BalanceSnapshot, error)
	GetPositions(ctx context.Context, symbol string) ([]domain.PositionInfo, error)

	// PlaceOrder размещает ордер. Никогда не ретраится вызывающим кодом:
	// каждая попытка должна нести свежий ExternalID.
	PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// CancelAllOrders отменяет все открытые ордера (по символу или все)
	// и возвращает число отменённых
	CancelAllOrders(ctx context.Context, symbol string) (int, error)

	// ClosePosition закрывает позицию reduce-only рыночным ордером.
	// qty <= 0 закрывает позицию целиком.
	ClosePosition(ctx context.Context, symbol string, qty float64) (*domain.OrderResult, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetLeverage(ctx context.Context, symbol string) (int, error)
}

// symbolFor общий перевод токена в символ по таблице маппинга
func symbolFor(markets map[string]string, token string) (string, error) {
	symbol, ok := markets[token]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownMarket, token)
	}
	return symbol, nil
}
