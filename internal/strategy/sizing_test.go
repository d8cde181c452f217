package strategy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/delta-bot/internal/domain"
)

func balance(available float64) *domain.BalanceSnapshot {
	return &domain.BalanceSnapshot{
		Available: available,
		Equity:    available,
		Currency:  "USD",
	}
}

func TestCalculateSizeUsesConstrainingBalance(t *testing.T) {
	s := NewSizer(testRiskConfig())

	result := s.CalculateSize("BTC", 50000, balance(10000), balance(5000), 0.5, 10, 0.001, 0.001)

	require.True(t, result.FitsConstraints)
	// Notional считается от меньшего баланса: 5000 * 0.5 * 10 = 25000,
	// дальше уменьшается буфером и округлением
	assert.LessOrEqual(t, result.NotionalValue, 25000.0)
	assert.Greater(t, result.NotionalValue, 25000.0*0.9)
	assert.InDelta(t, 0.475, result.PositionSize, 1e-9)
}

func TestCalculateSizeZeroBalance(t *testing.T) {
	s := NewSizer(testRiskConfig())

	result := s.CalculateSize("BTC", 50000, balance(0), balance(10000), 0.5, 10, 0.001, 0.001)

	assert.False(t, result.FitsConstraints)
	assert.Zero(t, result.PositionSize)
	assert.NotEmpty(t, result.Notes)
}

func TestCalculateSizeAppliesSafetyBuffer(t *testing.T) {
	s := NewSizer(testRiskConfig())

	result := s.CalculateSize("BTC", 50000, balance(10000), balance(10000), 0.5, 10, 0.001, 0.001)

	require.True(t, result.FitsConstraints)
	// 10000 * 0.5 * 10 / 50000 * 0.95 = 0.95
	assert.InDelta(t, 0.95, result.PositionSize, 1e-9)
	assert.InDelta(t, 4750.0, result.MarginPerLeg, 1e-6)
}

func TestCalculateSizeRejectsBelowMinOrder(t *testing.T) {
	s := NewSizer(testRiskConfig())

	// Размер получился бы 0.0019, минимальный ордер 0.01
	result := s.CalculateSize("BTC", 50000, balance(20), balance(20), 0.5, 10, 0.01, 0.0001)

	assert.False(t, result.FitsConstraints)
	assert.Zero(t, result.PositionSize)
}

func TestCalculateSizeBelowMinPositionValueSkips(t *testing.T) {
	s := NewSizer(testRiskConfig())

	// Notional 50 ниже минимума 100: пропускаем, а не поднимаем до минимума
	result := s.CalculateSize("SOL", 100, balance(100), balance(100), 0.1, 5, 0.01, 0.01)

	assert.False(t, result.FitsConstraints)
	assert.Zero(t, result.PositionSize)
}

func TestCalculateSizeRoundsDown(t *testing.T) {
	s := NewSizer(testRiskConfig())

	result := s.CalculateSize("ETH", 3333, balance(5000), balance(5000), 0.6, 10, 0.01, 0.01)

	require.True(t, result.FitsConstraints)
	// Округление только вниз, до шага 0.01: 8.5514... -> 8.55
	assert.InDelta(t, 8.55, result.PositionSize, 1e-9)
	raw := 5000 * 0.6 * 10 / 3333 * domain.SafetyBuffer
	assert.LessOrEqual(t, result.PositionSize, raw)
}

func TestSizingInvariantPropertySweep(t *testing.T) {
	s := NewSizer(testRiskConfig())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		availA := rng.Float64()*20000 - 1000
		availB := rng.Float64()*20000 - 1000
		equity := rng.Float64()
		leverage := rng.Intn(25) + 1
		price := []float64{0.5, 30, 50000}[rng.Intn(3)]

		result := s.CalculateSize("BTC", price, balance(availA), balance(availB),
			equity, leverage, 0.001, 0.001)

		if result.FitsConstraints {
			assert.Greater(t, result.PositionSize, 0.0)
			assert.Greater(t, result.MarginPerLeg, 0.0)
			assert.GreaterOrEqual(t, availA, result.MarginPerLeg)
			assert.GreaterOrEqual(t, availB, result.MarginPerLeg)
		} else {
			assert.Zero(t, result.PositionSize)
			assert.Zero(t, result.MarginPerLeg)
		}
	}
}

func TestValidateSizingAgainstFreshBalances(t *testing.T) {
	s := NewSizer(testRiskConfig())

	result := s.CalculateSize("BTC", 50000, balance(10000), balance(10000), 0.5, 10, 0.001, 0.001)
	require.True(t, result.FitsConstraints)

	assert.NoError(t, s.ValidateSizing(result, balance(10000), balance(10000)))

	// Баланс просел между расчётом и исполнением
	err := s.ValidateSizing(result, balance(10000), balance(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}
