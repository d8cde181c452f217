package execution

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/delta-bot/internal/domain"
)

func TestGetMarkPricePrimaryFirst(t *testing.T) {
	ext, xyz := newTestVenues()
	pf := NewPriceFailover(ext, xyz, zerolog.Nop())

	price, err := pf.GetMarkPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 50000.0, price, 1e-9)
	assert.Equal(t, 0, xyz.CallCount("GetMarketInfo"))
}

func TestGetMarkPriceFallsBackToSibling(t *testing.T) {
	ext, xyz := newTestVenues()
	ext.Fail("GetMarketInfo", fmt.Errorf("%w: timeout", domain.ErrExchangeAPI))
	pf := NewPriceFailover(ext, xyz, zerolog.Nop())

	price, err := pf.GetMarkPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 50000.0, price, 1e-9)
	assert.Equal(t, 1, xyz.CallCount("GetMarketInfo"))
}

func TestGetMarkPriceUsesCacheAsLastResort(t *testing.T) {
	ext, xyz := newTestVenues()
	pf := NewPriceFailover(ext, xyz, zerolog.Nop())

	// Первый запрос заполняет кэш
	_, err := pf.GetMarkPrice(context.Background(), "BTC")
	require.NoError(t, err)

	ext.Fail("GetMarketInfo", fmt.Errorf("%w: down", domain.ErrExchangeAPI))
	xyz.Fail("GetMarketInfo", fmt.Errorf("%w: down", domain.ErrExchangeAPI))

	price, err := pf.GetMarkPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 50000.0, price, 1e-9)
}

func TestGetMarkPriceUnavailable(t *testing.T) {
	ext, xyz := newTestVenues()
	ext.Fail("GetMarketInfo", fmt.Errorf("%w: down", domain.ErrExchangeAPI))
	xyz.Fail("GetMarketInfo", fmt.Errorf("%w: down", domain.ErrExchangeAPI))
	pf := NewPriceFailover(ext, xyz, zerolog.Nop())

	_, err := pf.GetMarkPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}
