package exchange

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter token-bucket лимитер запросов к одной бирже. Общий для всех
// вызовов к этой бирже: ожидание токена приостанавливает вызывающего,
// но никогда не отбрасывает и не переупорядочивает запросы.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter создаёт лимитер на requestsPerMinute запросов
// с burst-ёмкостью в 1/10 минутного лимита
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Wait блокируется до получения токена или отмены контекста
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
