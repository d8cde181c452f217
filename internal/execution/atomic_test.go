package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/exchange"
)

type stubIDs struct{ n int }

func (s *stubIDs) ExternalID() (string, error) {
	s.n++
	return fmt.Sprintf("%032d", s.n), nil
}

func newTestVenues() (*exchange.Sim, *exchange.Sim) {
	ext := exchange.NewSim(domain.ExchangeExtended, 10000)
	xyz := exchange.NewSim(domain.ExchangeTradeXYZ, 10000)
	for _, sim := range []*exchange.Sim{ext, xyz} {
		sim.SetMarket("BTC", domain.MarketInfo{
			MarkPrice:    50000,
			FundingRate:  0.0001,
			MinOrderSize: 0.001,
			SizeStep:     0.001,
			MaxLeverage:  50,
		})
	}
	return ext, xyz
}

func newTestExecutor(ext, xyz *exchange.Sim, parallel bool) *AtomicExecutor {
	return NewAtomicExecutor(ext, xyz, &stubIDs{},
		NewSlippageGuard(domain.DefaultMaxSlippagePercent),
		parallel, 2*time.Second, zerolog.Nop())
}

func TestOpenPositionsBothLegsSucceed(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			ext, xyz := newTestVenues()
			a := newTestExecutor(ext, xyz, parallel)

			result := a.OpenPositions(context.Background(), "BTC", 0.5,
				domain.SideLong, domain.SideShort, 10, 50000)

			assert.Equal(t, domain.ExecComplete, result.State)
			assert.True(t, result.Success)
			assert.False(t, result.RollbackPerformed)
			require.NotNil(t, result.ExtendedLeg)
			require.NotNil(t, result.TradeXYZLeg)
			assert.True(t, result.ExtendedLeg.Success)
			assert.True(t, result.TradeXYZLeg.Success)
			assert.Equal(t, domain.SideLong, result.ExtendedLeg.Side)
			assert.Equal(t, domain.SideShort, result.TradeXYZLeg.Side)
		})
	}
}

func TestOpenPositionsRollsBackSingleFilledLeg(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			ext, xyz := newTestVenues()
			xyz.Fail("PlaceOrder", fmt.Errorf("%w: margin check failed", domain.ErrExchangeAPI))
			a := newTestExecutor(ext, xyz, parallel)

			result := a.OpenPositions(context.Background(), "BTC", 0.5,
				domain.SideLong, domain.SideShort, 10, 50000)

			assert.False(t, result.Success)
			assert.Equal(t, domain.ExecRolledBack, result.State)
			assert.True(t, result.RollbackPerformed)
			assert.True(t, result.RollbackSuccess)
			assert.Equal(t, 1, ext.CallCount("ClosePosition"),
				"filled leg must be closed exactly once")
			assert.Equal(t, 0, xyz.CallCount("ClosePosition"))
			require.NotNil(t, result.TradeXYZLeg)
			assert.Equal(t, domain.LegErrRejected, result.TradeXYZLeg.ErrorKind)
		})
	}
}

func TestOpenPositionsRollbackFailureIsDistinct(t *testing.T) {
	ext, xyz := newTestVenues()
	xyz.Fail("PlaceOrder", fmt.Errorf("%w: rejected", domain.ErrExchangeAPI))
	ext.Fail("ClosePosition", fmt.Errorf("%w: close rejected", domain.ErrExchangeAPI))
	a := newTestExecutor(ext, xyz, false)

	result := a.OpenPositions(context.Background(), "BTC", 0.5,
		domain.SideLong, domain.SideShort, 10, 50000)

	assert.Equal(t, domain.ExecFailed, result.State)
	assert.True(t, result.RollbackPerformed)
	assert.False(t, result.RollbackSuccess)
	assert.Contains(t, result.Error, "unhedged")
}

func TestOpenPositionsSequentialShortCircuit(t *testing.T) {
	ext, xyz := newTestVenues()
	ext.Fail("PlaceOrder", fmt.Errorf("%w: insufficient margin", domain.ErrExchangeAPI))
	a := newTestExecutor(ext, xyz, false)

	result := a.OpenPositions(context.Background(), "BTC", 0.5,
		domain.SideLong, domain.SideShort, 10, 50000)

	assert.False(t, result.Success)
	assert.Equal(t, domain.ExecFailed, result.State)
	assert.False(t, result.RollbackPerformed)
	assert.Equal(t, 0, xyz.CallCount("PlaceOrder"),
		"second leg must not be attempted after first leg failure")
	require.NotNil(t, result.TradeXYZLeg)
	assert.Equal(t, domain.LegErrNotAttempted, result.TradeXYZLeg.ErrorKind)
}

func TestOpenPositionsBothRejectedNoRollback(t *testing.T) {
	ext, xyz := newTestVenues()
	ext.Fail("PlaceOrder", fmt.Errorf("%w: rejected", domain.ErrExchangeAPI))
	xyz.Fail("PlaceOrder", fmt.Errorf("%w: rejected", domain.ErrExchangeAPI))
	a := newTestExecutor(ext, xyz, true)

	result := a.OpenPositions(context.Background(), "BTC", 0.5,
		domain.SideLong, domain.SideShort, 10, 50000)

	assert.False(t, result.Success)
	assert.Equal(t, domain.ExecFailed, result.State)
	assert.False(t, result.RollbackPerformed)
	// Чистый отказ обеих ног: состояние известно, зачистка не нужна
	assert.Equal(t, 0, ext.CallCount("CancelAllOrders"))
	assert.Equal(t, 0, xyz.CallCount("CancelAllOrders"))
}

func TestOpenPositionsTimeoutTriggersEmergencyRollback(t *testing.T) {
	ext, xyz := newTestVenues()
	ext.PlaceDelay = 300 * time.Millisecond
	xyz.PlaceDelay = 300 * time.Millisecond
	a := NewAtomicExecutor(ext, xyz, &stubIDs{},
		NewSlippageGuard(domain.DefaultMaxSlippagePercent),
		true, 50*time.Millisecond, zerolog.Nop())

	result := a.OpenPositions(context.Background(), "BTC", 0.5,
		domain.SideLong, domain.SideShort, 10, 50000)

	assert.False(t, result.Success)
	assert.Equal(t, domain.ExecFailed, result.State)
	require.NotNil(t, result.ExtendedLeg)
	assert.Equal(t, domain.LegErrTimeout, result.ExtendedLeg.ErrorKind)
	// Исход неизвестен: обе биржи зачищаются идемпотентно
	assert.Equal(t, 1, ext.CallCount("CancelAllOrders"))
	assert.Equal(t, 1, xyz.CallCount("CancelAllOrders"))
}

func TestClosePositionsBothSucceed(t *testing.T) {
	ext, xyz := newTestVenues()
	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5, EntryPrice: 50000, MarkPrice: 50000})
	xyz.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideShort, Size: 0.5, EntryPrice: 50000, MarkPrice: 50000})
	a := newTestExecutor(ext, xyz, true)

	result := a.ClosePositions(context.Background(), "BTC", 0.5, 0.5)

	assert.True(t, result.Success)
	assert.Equal(t, domain.ExecComplete, result.State)
	assert.True(t, result.ExtendedLeg.Success)
	assert.True(t, result.TradeXYZLeg.Success)
}

func TestClosePositionsPartialFailurePopulatesBothLegs(t *testing.T) {
	ext, xyz := newTestVenues()
	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5, EntryPrice: 50000, MarkPrice: 50000})
	xyz.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideShort, Size: 0.5, EntryPrice: 50000, MarkPrice: 50000})
	xyz.Fail("ClosePosition", fmt.Errorf("%w: close rejected", domain.ErrExchangeAPI))
	a := newTestExecutor(ext, xyz, true)

	result := a.ClosePositions(context.Background(), "BTC", 0.5, 0.5)

	assert.False(t, result.Success)
	require.NotNil(t, result.ExtendedLeg)
	require.NotNil(t, result.TradeXYZLeg)
	assert.True(t, result.ExtendedLeg.Success)
	assert.False(t, result.TradeXYZLeg.Success)
	assert.NotEmpty(t, result.TradeXYZLeg.Error)
	// Закрытие терминально: отката при частичной неудаче нет
	assert.False(t, result.RollbackPerformed)
}

func TestOpenLegRecordsSlippageWarning(t *testing.T) {
	ext, xyz := newTestVenues()
	// Исполнение на 2% хуже ожидаемой цены при пороге 0.5%
	a := newTestExecutor(ext, xyz, true)

	result := a.OpenPositions(context.Background(), "BTC", 0.5,
		domain.SideLong, domain.SideShort, 10, 49000)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ExtendedLeg.Warnings)
	assert.NotEmpty(t, result.TradeXYZLeg.Warnings)
}
