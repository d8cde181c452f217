package domain

import "errors"

var (
	// ErrExchangeAPI возвращается когда биржа отклонила запрос (не ретраится)
	ErrExchangeAPI = errors.New("exchange API error")

	// ErrTransport возвращается при сетевой ошибке или таймауте (ретраится для чтений)
	ErrTransport = errors.New("transport error")

	// ErrNotConnected возвращается при вызове метода до connect
	ErrNotConnected = errors.New("exchange not connected")

	// ErrInsufficientBalance возвращается при недостаточном балансе
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSlippageTooHigh возвращается когда проскальзывание превышает порог
	ErrSlippageTooHigh = errors.New("slippage exceeds threshold")

	// ErrPriceUnavailable возвращается когда цена недоступна ни из одного источника
	ErrPriceUnavailable = errors.New("unable to get price from any source")

	// ErrEmergencyStop возвращается когда активирован аварийный режим
	ErrEmergencyStop = errors.New("emergency stop activated")

	// ErrShutdown возвращается когда запрошена остановка процесса
	ErrShutdown = errors.New("shutdown requested")

	// ErrUnknownMarket возвращается для токена без маппинга на символ биржи
	ErrUnknownMarket = errors.New("unknown market for token")
)

// IsRetryable сообщает, можно ли безопасно повторить операцию чтения
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
