package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/delta-bot/internal/config"
	"github.com/kirillm/delta-bot/internal/domain"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MinEquityUsage:         domain.DefaultMinEquityUsage,
		MaxEquityUsage:         domain.DefaultMaxEquityUsage,
		MinLeverage:            domain.DefaultMinLeverage,
		MaxLeverage:            domain.DefaultMaxLeverage,
		MinHold:                domain.DefaultMinHold,
		MaxHold:                domain.DefaultMaxHold,
		MinCooldown:            domain.DefaultMinCooldown,
		MaxCooldown:            domain.DefaultMaxCooldown,
		MinPositionValueUSD:    domain.DefaultMinPositionValueUSD,
		MaxPositionValueUSD:    domain.DefaultMaxPositionValueUSD,
		MinBalanceUSD:          domain.DefaultMinBalanceUSD,
		MaxConsecutiveFailures: domain.DefaultMaxConsecutiveFailures,
		MaxSlippagePercent:     domain.DefaultMaxSlippagePercent,
	}
}

func TestGenerateCycleParamsBounds(t *testing.T) {
	cfg := testRiskConfig()
	r := NewRandomizer(cfg)

	supported := make(map[string]bool)
	for _, token := range domain.SupportedTokens {
		supported[token] = true
	}

	for i := 0; i < 1000; i++ {
		params, err := r.GenerateCycleParams()
		require.NoError(t, err)

		assert.True(t, supported[params.Token], "unsupported token %s", params.Token)
		assert.GreaterOrEqual(t, params.EquityUsage, cfg.MinEquityUsage)
		assert.LessOrEqual(t, params.EquityUsage, cfg.MaxEquityUsage)
		assert.GreaterOrEqual(t, params.Leverage, cfg.MinLeverage)
		assert.LessOrEqual(t, params.Leverage, cfg.MaxLeverage)
		assert.GreaterOrEqual(t, params.Hold, cfg.MinHold)
		assert.LessOrEqual(t, params.Hold, cfg.MaxHold)
		assert.GreaterOrEqual(t, params.Cooldown, cfg.MinCooldown)
		assert.LessOrEqual(t, params.Cooldown, cfg.MaxCooldown)
	}
}

func TestAssignSidesRandomIsFair(t *testing.T) {
	r := NewRandomizer(testRiskConfig())

	extendedLong := 0
	const draws = 1000
	for i := 0; i < draws; i++ {
		ext, xyz, err := r.AssignSidesRandom()
		require.NoError(t, err)
		require.Equal(t, ext.Opposite(), xyz)
		if ext == domain.SideLong {
			extendedLong++
		}
	}

	ratio := float64(extendedLong) / draws
	assert.InDelta(t, 0.5, ratio, 0.05, "fair coin ratio %.3f out of tolerance", ratio)
}

func TestAssignSidesWithBiasFavorsShortVenue(t *testing.T) {
	r := NewRandomizer(testRiskConfig())

	// Большой перекос: Extended должен чаще получать шорт
	analysis := AnalyzeFunding("BTC", 0.001, -0.001, 10000)
	require.Equal(t, domain.BiasLarge, analysis.Bias)
	require.Equal(t, domain.ExchangeExtended, analysis.RecommendedShort)

	extendedShort := 0
	const draws = 1000
	for i := 0; i < draws; i++ {
		ext, xyz, err := r.AssignSidesWithBias(analysis)
		require.NoError(t, err)
		require.Equal(t, ext.Opposite(), xyz)
		if ext == domain.SideShort {
			extendedShort++
		}
	}

	ratio := float64(extendedShort) / draws
	assert.Greater(t, ratio, 0.60, "biased ratio %.3f not above 0.60", ratio)
}

func TestAssignSidesWithBiasNeverDeterministic(t *testing.T) {
	r := NewRandomizer(testRiskConfig())
	analysis := AnalyzeFunding("ETH", 0.002, -0.002, 10000)

	seen := make(map[domain.Side]bool)
	for i := 0; i < 1000; i++ {
		ext, _, err := r.AssignSidesWithBias(analysis)
		require.NoError(t, err)
		seen[ext] = true
	}
	assert.True(t, seen[domain.SideLong] && seen[domain.SideShort],
		"biased assignment must still produce both outcomes")
}

func TestExternalIDFormat(t *testing.T) {
	r := NewRandomizer(testRiskConfig())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := r.ExternalID()
		require.NoError(t, err)
		assert.Len(t, id, 32)
		assert.False(t, seen[id], "duplicate external id %s", id)
		seen[id] = true
	}
}

func TestNonceUnique(t *testing.T) {
	r := NewRandomizer(testRiskConfig())

	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		n, err := r.Nonce()
		require.NoError(t, err)
		assert.False(t, seen[n], "duplicate nonce %d", n)
		seen[n] = true
	}
}
