package execution

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/exchange"
)

// Кэшированная цена годится как последний резерв недолго
const priceCacheTTL = time.Minute

// PriceFailover получает mark price с основной биржи с откатом на
// соседнюю и коротким кэшем как последним резервом. Для delta-neutral
// пары цены двух бирж достаточно близки, чтобы служить друг другу
// запасным источником.
type PriceFailover struct {
	primary  exchange.Exchange
	fallback exchange.Exchange
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	timestamp time.Time
}

// NewPriceFailover создает failover: primary опрашивается первым
func NewPriceFailover(primary, fallback exchange.Exchange, log zerolog.Logger) *PriceFailover {
	return &PriceFailover{
		primary:  primary,
		fallback: fallback,
		log:      log,
		cache:    make(map[string]cachedPrice),
	}
}

// GetMarkPrice получает mark price токена с failover
func (pf *PriceFailover) GetMarkPrice(ctx context.Context, token string) (float64, error) {
	if price, err := pf.fetch(ctx, pf.primary, token); err == nil {
		pf.store(token, price)
		return price, nil
	}

	if price, err := pf.fetch(ctx, pf.fallback, token); err == nil {
		pf.log.Warn().Str("token", token).
			Str("exchange", string(pf.fallback.Name())).
			Msg("using fallback exchange for mark price")
		pf.store(token, price)
		return price, nil
	}

	pf.mu.Lock()
	cached, ok := pf.cache[token]
	pf.mu.Unlock()
	if ok && time.Since(cached.timestamp) < priceCacheTTL {
		pf.log.Warn().Str("token", token).
			Dur("age", time.Since(cached.timestamp)).
			Msg("using cached mark price")
		return cached.price, nil
	}

	return 0, domain.ErrPriceUnavailable
}

func (pf *PriceFailover) fetch(ctx context.Context, ex exchange.Exchange, token string) (float64, error) {
	symbol, err := ex.Symbol(token)
	if err != nil {
		return 0, err
	}
	info, err := ex.GetMarketInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if info.MarkPrice <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return info.MarkPrice, nil
}

func (pf *PriceFailover) store(token string, price float64) {
	pf.mu.Lock()
	pf.cache[token] = cachedPrice{price: price, timestamp: time.Now()}
	pf.mu.Unlock()
}
