package execution

import (
	"time"

	"github.com/kirillm/delta-bot/internal/domain"
)

// ResultBuilder инкрементально собирает итог цикла. Любая точка выхода
// цикла, включая самые ранние отказы, строит валидный CycleResult.
type ResultBuilder struct {
	result domain.CycleResult
}

// NewResultBuilder начинает сборку результата цикла
func NewResultBuilder(cycleID string) *ResultBuilder {
	return &ResultBuilder{
		result: domain.CycleResult{
			CycleID:   cycleID,
			State:     domain.StateIdle,
			StartedAt: time.Now(),
		},
	}
}

func (b *ResultBuilder) SetState(state domain.CycleState) *ResultBuilder {
	b.result.State = state
	return b
}

func (b *ResultBuilder) SetParams(params *domain.CycleParams) *ResultBuilder {
	b.result.Params = params
	return b
}

func (b *ResultBuilder) SetFunding(analysis *domain.FundingAnalysis) *ResultBuilder {
	b.result.Funding = analysis
	return b
}

func (b *ResultBuilder) SetSizing(sizing *domain.SizingResult) *ResultBuilder {
	b.result.Sizing = sizing
	return b
}

func (b *ResultBuilder) SetRisk(risk *domain.RiskAssessment) *ResultBuilder {
	b.result.Risk = risk
	return b
}

func (b *ResultBuilder) SetSides(extended, tradexyz domain.Side) *ResultBuilder {
	b.result.ExtendedSide = extended
	b.result.TradeXYZSide = tradexyz
	return b
}

func (b *ResultBuilder) SetOpenResult(result *domain.ExecutionResult) *ResultBuilder {
	b.result.OpenResult = result
	return b
}

func (b *ResultBuilder) SetCloseResult(result *domain.ExecutionResult) *ResultBuilder {
	b.result.CloseResult = result
	return b
}

func (b *ResultBuilder) SetHeldFor(held time.Duration) *ResultBuilder {
	b.result.HeldFor = held
	return b
}

func (b *ResultBuilder) SetFundingEarned(amount float64) *ResultBuilder {
	b.result.FundingEarned = amount
	return b
}

func (b *ResultBuilder) SetPnL(pnl *domain.CyclePnL) *ResultBuilder {
	b.result.PnL = pnl
	return b
}

// Fail фиксирует неудачу цикла в заданном терминальном состоянии
func (b *ResultBuilder) Fail(state domain.CycleState, reason string) *ResultBuilder {
	b.result.State = state
	b.result.Success = false
	b.result.FailReason = reason
	return b
}

// Succeed помечает цикл успешным
func (b *ResultBuilder) Succeed() *ResultBuilder {
	b.result.Success = true
	b.result.FailReason = ""
	return b
}

// Build замораживает и возвращает результат
func (b *ResultBuilder) Build() *domain.CycleResult {
	b.result.FinishedAt = time.Now()
	result := b.result
	return &result
}
