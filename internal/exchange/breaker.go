package exchange

import (
	"time"

	"github.com/sony/gobreaker"
)

// Breaker circuit breaker вокруг REST-вызовов одной биржи. Открытое
// состояние используется safety-циклом как сигнал потери связи.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker создаёт breaker: открывается после 5 подряд неудачных
// вызовов, пробует восстановление через 30 секунд
func NewBreaker(name string) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute выполняет вызов через breaker
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// Healthy сообщает, что breaker не в открытом состоянии
func (b *Breaker) Healthy() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// State возвращает текущее состояние breaker
func (b *Breaker) State() string {
	return b.cb.State().String()
}
