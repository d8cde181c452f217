package strategy

import (
	"time"

	"github.com/kirillm/delta-bot/internal/domain"
)

// Taker-комиссия одной стороны; цикл платит её четыре раза
// (открытие и закрытие на двух биржах)
const defaultTakerFeeRate = 0.0005

// PnLCalculator оценивает результат цикла. Это оценка, не сверка
// с леджером биржи.
type PnLCalculator struct {
	feeRate float64
}

// NewPnLCalculator создаёт калькулятор со стандартной taker-комиссией
func NewPnLCalculator() *PnLCalculator {
	return &PnLCalculator{feeRate: defaultTakerFeeRate}
}

// EstimateFunding оценивает funding за время удержания: снимок разницы
// ставок, пропорционально прокинутый на hold против 8-часового
// интервала начисления. Линейное приближение по одному снимку.
func (c *PnLCalculator) EstimateFunding(positionValue, rateDiff float64, held time.Duration) float64 {
	if positionValue <= 0 || held <= 0 {
		return 0
	}
	return positionValue * rateDiff * (held.Seconds() / domain.FundingInterval.Seconds())
}

// FromFills считает PnL цикла по ценам исполнения открытия и закрытия
// обеих ног
func (c *PnLCalculator) FromFills(open, close *domain.ExecutionResult, extendedSide domain.Side, fundingEarned float64) *domain.CyclePnL {
	pnl := &domain.CyclePnL{
		FundingEarned:  fundingEarned,
		EstimationMode: "snapshot",
	}
	if open == nil || close == nil || open.ExtendedLeg == nil || open.TradeXYZLeg == nil ||
		close.ExtendedLeg == nil || close.TradeXYZLeg == nil {
		return c.estimateSimple(open, fundingEarned)
	}

	pnl.PositionValue = open.ExtendedLeg.FilledQty * open.ExtendedLeg.AvgPrice

	pnl.ExtendedPnL = legPnL(open.ExtendedLeg, close.ExtendedLeg, extendedSide)
	pnl.TradeXYZPnL = legPnL(open.TradeXYZLeg, close.TradeXYZLeg, extendedSide.Opposite())

	pnl.FeesEstimated = pnl.PositionValue * c.feeRate * 4
	pnl.NetPnL = pnl.ExtendedPnL + pnl.TradeXYZPnL + fundingEarned - pnl.FeesEstimated
	if pnl.PositionValue > 0 {
		pnl.ReturnPercent = pnl.NetPnL / pnl.PositionValue * 100
	}
	return pnl
}

// estimateSimple грубая оценка, когда цены исполнения недоступны:
// ноги считаются идеально нейтральными, остаются funding и комиссии
func (c *PnLCalculator) estimateSimple(open *domain.ExecutionResult, fundingEarned float64) *domain.CyclePnL {
	pnl := &domain.CyclePnL{
		FundingEarned:  fundingEarned,
		EstimationMode: "simple",
	}
	if open != nil && open.ExtendedLeg != nil {
		pnl.PositionValue = open.ExtendedLeg.FilledQty * open.ExtendedLeg.AvgPrice
	}
	pnl.FeesEstimated = pnl.PositionValue * c.feeRate * 4
	pnl.NetPnL = fundingEarned - pnl.FeesEstimated
	if pnl.PositionValue > 0 {
		pnl.ReturnPercent = pnl.NetPnL / pnl.PositionValue * 100
	}
	return pnl
}

func legPnL(open, close *domain.LegResult, side domain.Side) float64 {
	if !open.Success || !close.Success {
		return 0
	}
	size := open.FilledQty
	if close.FilledQty < size {
		size = close.FilledQty
	}
	direction := 1.0
	if side == domain.SideShort {
		direction = -1.0
	}
	return (close.AvgPrice - open.AvgPrice) * size * direction
}
