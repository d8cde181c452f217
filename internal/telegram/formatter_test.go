package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/orchestrator"
)

func TestFormatStatus(t *testing.T) {
	s := orchestrator.Status{
		State:               domain.StateHolding,
		Running:             true,
		CyclesRun:           7,
		ConsecutiveFailures: 1,
	}

	text := FormatStatus(s)
	assert.Contains(t, text, "HOLDING")
	assert.Contains(t, text, "Cycles run: 7")
	assert.Contains(t, text, "Consecutive failures: 1")
	assert.NotContains(t, text, "EMERGENCY")
}

func TestFormatStatusEmergency(t *testing.T) {
	s := orchestrator.Status{
		State:              domain.StateEmergency,
		EmergencyTriggered: true,
	}

	text := FormatStatus(s)
	assert.Contains(t, text, "EMERGENCY ACTIVE")
}

func TestFormatCycleSuccess(t *testing.T) {
	r := &domain.CycleResult{
		CycleID: "a1b2c3d4-0000-0000-0000-000000000000",
		Success: true,
		Params: &domain.CycleParams{
			Token:       "BTC",
			EquityUsage: 0.5,
			Leverage:    10,
		},
		Sizing: &domain.SizingResult{
			PositionSize:    0.95,
			NotionalValue:   47500,
			FitsConstraints: true,
		},
		ExtendedSide: domain.SideLong,
		TradeXYZSide: domain.SideShort,
		HeldFor:      30 * time.Minute,
		PnL: &domain.CyclePnL{
			NetPnL:        3.21,
			FundingEarned: 5.94,
			FeesEstimated: 2.73,
		},
	}

	text := FormatCycle(r)
	assert.Contains(t, text, "Cycle a1b2c3d4: OK")
	assert.Contains(t, text, "BTC")
	assert.Contains(t, text, "10x")
	assert.Contains(t, text, "0.9500")
	assert.Contains(t, text, "$3.21")
	assert.NotContains(t, text, "Reason")
}

func TestFormatCycleFailure(t *testing.T) {
	r := &domain.CycleResult{
		CycleID:    "deadbeef-0000-0000-0000-000000000000",
		Success:    false,
		FailReason: "sizing does not fit constraints",
	}

	text := FormatCycle(r)
	assert.Contains(t, text, "FAILED")
	assert.Contains(t, text, "sizing does not fit constraints")
}
