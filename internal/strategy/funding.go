package strategy

import (
	"math"

	"github.com/kirillm/delta-bot/internal/domain"
)

// AnalyzeFunding сравнивает funding rates двух бирж и классифицирует
// перекос. Чисто информационная функция без побочных эффектов:
// обязательный выбор сторон делает только рандомизатор.
func AnalyzeFunding(token string, extendedRate, tradexyzRate, positionValue float64) *domain.FundingAnalysis {
	diff := math.Abs(extendedRate - tradexyzRate)

	var bias domain.FundingBias
	switch {
	case diff < domain.MinMeaningfulFundingDiff:
		bias = domain.BiasNone
	case diff < domain.BiasThresholdModerate:
		bias = domain.BiasSmall
	case diff < domain.BiasThresholdLarge:
		bias = domain.BiasModerate
	default:
		bias = domain.BiasLarge
	}

	// Шортить надо там, где ставка выше: шорт собирает с лонгов
	short, long := domain.ExchangeExtended, domain.ExchangeTradeXYZ
	shortRate, longRate := extendedRate, tradexyzRate
	if tradexyzRate > extendedRate {
		short, long = domain.ExchangeTradeXYZ, domain.ExchangeExtended
		shortRate, longRate = tradexyzRate, extendedRate
	}

	return &domain.FundingAnalysis{
		Token:                token,
		ExtendedRate:         extendedRate,
		TradeXYZRate:         tradexyzRate,
		RateDiff:             diff,
		Bias:                 bias,
		RecommendedShort:     short,
		RecommendedLong:      long,
		ExpectedHourlyIncome: positionValue * (shortRate - longRate),
	}
}

// CompareAssignmentOutcomes возвращает ожидаемый доход обоих вариантов
// распределения сторон: extendedShort при шорте на Extended,
// tradexyzShort при шорте на TradeXYZ. Один из них обычно отрицателен.
func CompareAssignmentOutcomes(extendedRate, tradexyzRate, positionValue float64) (extendedShort, tradexyzShort float64) {
	extendedShort = positionValue * (extendedRate - tradexyzRate)
	tradexyzShort = positionValue * (tradexyzRate - extendedRate)
	return extendedShort, tradexyzShort
}
