package execution

import (
	"fmt"
	"math"

	"github.com/kirillm/delta-bot/internal/domain"
)

// SlippageGuard защита от чрезмерного проскальзывания цены исполнения
type SlippageGuard struct {
	thresholdPercent float64
}

// NewSlippageGuard создает guard с порогом в процентах
func NewSlippageGuard(thresholdPercent float64) *SlippageGuard {
	return &SlippageGuard{
		thresholdPercent: thresholdPercent,
	}
}

// CheckSlippage проверяет отклонение цены исполнения от ожидаемой
func (sg *SlippageGuard) CheckSlippage(actualPrice, expectedPrice float64) error {
	if expectedPrice <= 0 {
		return fmt.Errorf("invalid expected price: %.2f", expectedPrice)
	}

	slippage := sg.CalculateSlippage(actualPrice, expectedPrice)
	if slippage > sg.thresholdPercent {
		return fmt.Errorf("%w: %.2f%% (threshold: %.2f%%)",
			domain.ErrSlippageTooHigh, slippage, sg.thresholdPercent)
	}
	return nil
}

// CalculateSlippage вычисляет процент проскальзывания
func (sg *SlippageGuard) CalculateSlippage(actualPrice, expectedPrice float64) float64 {
	if expectedPrice <= 0 {
		return 0.0
	}
	return math.Abs((actualPrice - expectedPrice) / expectedPrice * 100.0)
}

// GetThreshold возвращает текущий порог
func (sg *SlippageGuard) GetThreshold() float64 {
	return sg.thresholdPercent
}
