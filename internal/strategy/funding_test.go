package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kirillm/delta-bot/internal/domain"
)

func TestAnalyzeFundingBiasCategories(t *testing.T) {
	tests := []struct {
		name     string
		extended float64
		tradexyz float64
		want     domain.FundingBias
	}{
		{"identical rates", 0.0001, 0.0001, domain.BiasNone},
		{"noise level diff", 0.000105, 0.0001, domain.BiasNone},
		{"small diff", 0.00008, 0.0, domain.BiasSmall},
		{"moderate diff", 0.0003, 0.0, domain.BiasModerate},
		{"large diff", 0.001, 0.0, domain.BiasLarge},
		{"large negative spread", -0.0004, 0.0004, domain.BiasLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := AnalyzeFunding("BTC", tt.extended, tt.tradexyz, 10000)
			assert.Equal(t, tt.want, analysis.Bias)
		})
	}
}

func TestAnalyzeFundingRecommendsHigherRateShort(t *testing.T) {
	// Шорт рекомендован там, где ставка выше
	analysis := AnalyzeFunding("ETH", 0.0005, -0.0002, 20000)
	assert.Equal(t, domain.ExchangeExtended, analysis.RecommendedShort)
	assert.Equal(t, domain.ExchangeTradeXYZ, analysis.RecommendedLong)
	assert.InDelta(t, 20000*0.0007, analysis.ExpectedHourlyIncome, 1e-9)

	reversed := AnalyzeFunding("ETH", -0.0002, 0.0005, 20000)
	assert.Equal(t, domain.ExchangeTradeXYZ, reversed.RecommendedShort)
	assert.Equal(t, domain.ExchangeExtended, reversed.RecommendedLong)
	assert.InDelta(t, analysis.ExpectedHourlyIncome, reversed.ExpectedHourlyIncome, 1e-9)
}

func TestCompareAssignmentOutcomes(t *testing.T) {
	extendedShort, tradexyzShort := CompareAssignmentOutcomes(0.0004, -0.0001, 10000)
	assert.InDelta(t, 5.0, extendedShort, 1e-9)
	assert.InDelta(t, -5.0, tradexyzShort, 1e-9)
	assert.InDelta(t, 0.0, extendedShort+tradexyzShort, 1e-9)
}
