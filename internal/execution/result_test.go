package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kirillm/delta-bot/internal/domain"
)

func TestResultBuilderEarlyBailout(t *testing.T) {
	// Отказ до единого вызова биржи всё равно даёт валидный результат
	result := NewResultBuilder("cycle-1").
		SetState(domain.StateOpening).
		Fail(domain.StateError, "sizing does not fit constraints").
		Build()

	assert.Equal(t, "cycle-1", result.CycleID)
	assert.False(t, result.Success)
	assert.Equal(t, domain.StateError, result.State)
	assert.Equal(t, "sizing does not fit constraints", result.FailReason)
	assert.False(t, result.FinishedAt.IsZero())
	assert.Nil(t, result.OpenResult)
}

func TestResultBuilderSuccessfulCycle(t *testing.T) {
	params := &domain.CycleParams{Token: "BTC", EquityUsage: 0.5, Leverage: 10}

	result := NewResultBuilder("cycle-2").
		SetParams(params).
		SetSides(domain.SideLong, domain.SideShort).
		SetHeldFor(30 * time.Minute).
		SetFundingEarned(1.25).
		SetState(domain.StateCooldown).
		Succeed().
		Build()

	assert.True(t, result.Success)
	assert.Equal(t, domain.StateCooldown, result.State)
	assert.Equal(t, params, result.Params)
	assert.Equal(t, domain.SideLong, result.ExtendedSide)
	assert.Equal(t, 30*time.Minute, result.HeldFor)
	assert.InDelta(t, 1.25, result.FundingEarned, 1e-9)
	assert.Empty(t, result.FailReason)
}

func TestResultBuilderBuildReturnsCopy(t *testing.T) {
	b := NewResultBuilder("cycle-3")
	first := b.Build()
	b.Fail(domain.StateError, "later failure")
	second := b.Build()

	assert.NotEqual(t, first.State, second.State)
	assert.True(t, first.FailReason == "")
}
