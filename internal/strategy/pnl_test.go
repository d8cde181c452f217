package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kirillm/delta-bot/internal/domain"
)

func TestEstimateFundingProration(t *testing.T) {
	c := NewPnLCalculator()

	// Полный 8-часовой интервал даёт полный funding
	full := c.EstimateFunding(10000, 0.0004, 8*time.Hour)
	assert.InDelta(t, 4.0, full, 1e-9)

	// Час удержания даёт 1/8
	hour := c.EstimateFunding(10000, 0.0004, time.Hour)
	assert.InDelta(t, 0.5, hour, 1e-9)

	assert.Zero(t, c.EstimateFunding(10000, 0.0004, 0))
	assert.Zero(t, c.EstimateFunding(0, 0.0004, time.Hour))
}

func TestFromFillsDeltaNeutral(t *testing.T) {
	c := NewPnLCalculator()

	open := &domain.ExecutionResult{
		ExtendedLeg: &domain.LegResult{Success: true, FilledQty: 0.5, AvgPrice: 50000},
		TradeXYZLeg: &domain.LegResult{Success: true, FilledQty: 0.5, AvgPrice: 50000},
	}
	closeRes := &domain.ExecutionResult{
		ExtendedLeg: &domain.LegResult{Success: true, FilledQty: 0.5, AvgPrice: 51000},
		TradeXYZLeg: &domain.LegResult{Success: true, FilledQty: 0.5, AvgPrice: 51000},
	}

	pnl := c.FromFills(open, closeRes, domain.SideLong, 2.5)

	// Ноги компенсируются: лонг +500, шорт -500
	assert.InDelta(t, 500.0, pnl.ExtendedPnL, 1e-9)
	assert.InDelta(t, -500.0, pnl.TradeXYZPnL, 1e-9)
	assert.InDelta(t, 2.5, pnl.FundingEarned, 1e-9)
	assert.InDelta(t, 25000*0.0005*4, pnl.FeesEstimated, 1e-9)
	assert.InDelta(t, 2.5-pnl.FeesEstimated, pnl.NetPnL, 1e-9)
	assert.Equal(t, "snapshot", pnl.EstimationMode)
}

func TestFromFillsFallsBackToSimpleEstimate(t *testing.T) {
	c := NewPnLCalculator()

	open := &domain.ExecutionResult{
		ExtendedLeg: &domain.LegResult{Success: true, FilledQty: 0.5, AvgPrice: 50000},
	}

	pnl := c.FromFills(open, nil, domain.SideLong, 1.0)

	assert.Equal(t, "simple", pnl.EstimationMode)
	assert.InDelta(t, 1.0, pnl.FundingEarned, 1e-9)
	assert.InDelta(t, 25000.0, pnl.PositionValue, 1e-9)
}
