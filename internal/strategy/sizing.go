package strategy

import (
	"fmt"
	"math"

	"github.com/kirillm/delta-bot/internal/config"
	"github.com/kirillm/delta-bot/internal/domain"
)

// Sizer рассчитывает размер позиции, одинаковый для обеих ног
type Sizer struct {
	minPositionValue float64
	maxPositionValue float64
}

// NewSizer создаёт sizer с лимитами стоимости позиции из конфигурации
func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{
		minPositionValue: cfg.MinPositionValueUSD,
		maxPositionValue: cfg.MaxPositionValueUSD,
	}
}

// CalculateSize рассчитывает размер позиции от ограничивающего
// (меньшего) баланса. Инвариант результата: FitsConstraints == true
// тогда и только тогда, когда размер и маржа положительны и обе биржи
// покрывают маржу.
func (s *Sizer) CalculateSize(token string, price float64, extended, tradexyz *domain.BalanceSnapshot, equityUsage float64, leverage int, minOrderSize, sizeStep float64) *domain.SizingResult {
	result := &domain.SizingResult{
		Token:       token,
		Leverage:    leverage,
		EquityUsage: equityUsage,
		Price:       price,
	}

	if price <= 0 {
		result.Notes = append(result.Notes, fmt.Sprintf("invalid price %.8f", price))
		return result
	}

	// Размер всегда считается от меньшего баланса: ноги должны быть равны
	constraining := math.Min(extended.Available, tradexyz.Available)
	if constraining <= 0 {
		result.Notes = append(result.Notes,
			fmt.Sprintf("constraining balance %.2f is not positive", constraining))
		return result
	}

	capitalPerLeg := constraining * equityUsage
	notional := capitalPerLeg * float64(leverage)

	if notional > s.maxPositionValue {
		result.Notes = append(result.Notes,
			fmt.Sprintf("notional %.2f capped to max position value %.2f", notional, s.maxPositionValue))
		notional = s.maxPositionValue
	}
	if notional < s.minPositionValue {
		// Поднимать до минимума нельзя: лучше пропустить цикл
		result.Notes = append(result.Notes,
			fmt.Sprintf("notional %.2f below min position value %.2f, skipping", notional, s.minPositionValue))
		return result
	}

	rawSize := notional / price * domain.SafetyBuffer
	size := roundDown(rawSize, sizeStep)

	if size < minOrderSize || size <= 0 {
		result.Notes = append(result.Notes,
			fmt.Sprintf("size %.8f below min order size %.8f", size, minOrderSize))
		return result
	}

	// Пересчёт от округлённого размера и повторная проверка маржи
	notional = size * price
	margin := notional / float64(leverage)

	if margin <= 0 {
		result.Notes = append(result.Notes, "margin is not positive after rounding")
		return result
	}
	if extended.Available < margin {
		result.Notes = append(result.Notes,
			fmt.Sprintf("extended available %.2f cannot cover margin %.2f", extended.Available, margin))
		return result
	}
	if tradexyz.Available < margin {
		result.Notes = append(result.Notes,
			fmt.Sprintf("tradexyz available %.2f cannot cover margin %.2f", tradexyz.Available, margin))
		return result
	}

	result.PositionSize = size
	result.NotionalValue = notional
	result.MarginPerLeg = margin
	result.FitsConstraints = true
	return result
}

// ValidateSizing перепроверяет готовый результат против свежих балансов
func (s *Sizer) ValidateSizing(result *domain.SizingResult, extended, tradexyz *domain.BalanceSnapshot) error {
	if !result.FitsConstraints {
		return fmt.Errorf("sizing result does not fit constraints")
	}
	if extended.Available < result.MarginPerLeg {
		return fmt.Errorf("%w: extended available %.2f < margin %.2f",
			domain.ErrInsufficientBalance, extended.Available, result.MarginPerLeg)
	}
	if tradexyz.Available < result.MarginPerLeg {
		return fmt.Errorf("%w: tradexyz available %.2f < margin %.2f",
			domain.ErrInsufficientBalance, tradexyz.Available, result.MarginPerLeg)
	}
	return nil
}

// roundDown округляет вниз до шага сетки. Вверх нельзя: это занизило бы
// требуемую маржу.
func roundDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}
