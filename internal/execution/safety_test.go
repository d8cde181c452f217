package execution

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/exchange"
)

func newTestMonitor(ext, xyz *exchange.Sim, notify func(string)) *Monitor {
	return NewMonitor(ext, xyz, NewSafetyState(),
		domain.DefaultMaxConsecutiveFailures, notify, zerolog.Nop())
}

func TestConsecutiveFailuresTriggerEmergency(t *testing.T) {
	ext, xyz := newTestVenues()
	var notified []string
	m := newTestMonitor(ext, xyz, func(msg string) { notified = append(notified, msg) })

	m.RecordFailure()
	m.RecordFailure()
	assert.False(t, m.State().EmergencyTriggered())

	m.RecordFailure()
	assert.True(t, m.State().EmergencyTriggered())
	assert.NotEmpty(t, notified)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)

	m.RecordFailure()
	m.RecordFailure()
	m.RecordSuccess()
	assert.Zero(t, m.State().ConsecutiveFailures())

	m.RecordFailure()
	m.RecordFailure()
	assert.False(t, m.State().EmergencyTriggered())
}

func TestFailureCeilingRunsLiquidationSweep(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)

	// Осиротевшая нога после неудачного закрытия
	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5, MarkPrice: 50000})

	for i := 0; i < 3; i++ {
		m.RecordFailure()
	}

	require.True(t, m.State().EmergencyTriggered())
	assert.Equal(t, 1, ext.CallCount("CancelAllOrders"))
	assert.Equal(t, 1, xyz.CallCount("CancelAllOrders"))
	assert.Equal(t, 1, ext.CallCount("ClosePosition"))
	positions, _ := ext.GetPositions(context.Background(), "")
	assert.Empty(t, positions)

	// Повторные неудачи не запускают зачистку заново
	m.RecordFailure()
	assert.Equal(t, 1, ext.CallCount("CancelAllOrders"))
}

func TestEmergencyFlagIsOneWay(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)

	for i := 0; i < 3; i++ {
		m.RecordFailure()
	}
	require.True(t, m.State().EmergencyTriggered())

	// Успех сбрасывает счётчик, но не аварийный флаг
	m.RecordSuccess()
	assert.True(t, m.State().EmergencyTriggered())
}

func TestCheckExposureHedgedPair(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)
	m.State().AddMonitored("BTC")

	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5})
	xyz.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideShort, Size: 0.5})

	assert.NoError(t, m.CheckExposure(context.Background()))
}

func TestCheckExposureUnhedgedSingleLeg(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)
	m.State().AddMonitored("BTC")

	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5})

	err := m.CheckExposure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhedged")
}

func TestCheckExposureSameSideIsDoubled(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)
	m.State().AddMonitored("BTC")

	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5})
	xyz.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5})

	err := m.CheckExposure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doubled")
}

func TestCheckExposureBothClosedIsClean(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)
	m.State().AddMonitored("BTC")

	assert.NoError(t, m.CheckExposure(context.Background()))
}

func TestCheckExposureSizeImbalanceIsWarningOnly(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)
	m.State().AddMonitored("BTC")

	// Расхождение 4% выше допуска, но стороны противоположны: не ошибка
	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.50})
	xyz.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideShort, Size: 0.48})

	assert.NoError(t, m.CheckExposure(context.Background()))
}

func TestExecuteEmergencyClosesEverything(t *testing.T) {
	ext, xyz := newTestVenues()
	var notified []string
	m := newTestMonitor(ext, xyz, func(msg string) { notified = append(notified, msg) })

	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5, MarkPrice: 50000})
	xyz.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideShort, Size: 0.5, MarkPrice: 50000})

	action := m.ExecuteEmergency(context.Background(), "test emergency")

	assert.True(t, action.Success)
	assert.Equal(t, 1, action.PositionsClosed[domain.ExchangeExtended])
	assert.Equal(t, 1, action.PositionsClosed[domain.ExchangeTradeXYZ])
	assert.True(t, m.State().EmergencyTriggered())
	assert.NotEmpty(t, notified)
}

func TestExecuteEmergencyVenuesAreIndependent(t *testing.T) {
	ext, xyz := newTestVenues()
	m := newTestMonitor(ext, xyz, nil)

	ext.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideLong, Size: 0.5, MarkPrice: 50000})
	xyz.SetPosition(domain.PositionInfo{Symbol: "BTC", Side: domain.SideShort, Size: 0.5, MarkPrice: 50000})
	ext.Fail("GetPositions", fmt.Errorf("%w: connection refused", domain.ErrTransport))

	action := m.ExecuteEmergency(context.Background(), "partial venue outage")

	// Сбой на Extended не мешает зачистке TradeXYZ
	assert.False(t, action.Success)
	assert.NotEmpty(t, action.Errors)
	assert.Equal(t, 1, action.PositionsClosed[domain.ExchangeTradeXYZ])
}
