package strategy

import (
	"fmt"

	"github.com/kirillm/delta-bot/internal/config"
	"github.com/kirillm/delta-bot/internal/domain"
)

const (
	// Запас к требуемой марже при проверке достаточности
	marginBufferRatio = 0.2

	// Утилизация маржи выше этой доли даёт warning
	marginUtilizationWarn = 0.9

	// Плечо выше этого порога считается агрессивным даже в лимитах
	softLeverageWarn = 15

	// Границы дистанции до ликвидации
	liqDistanceFail = 0.03
	liqDistanceWarn = 0.05

	// Maintenance margin по умолчанию, если биржа не сообщила свою
	defaultMaintenanceMargin = 0.005
)

// Validator выполняет набор независимых риск-проверок перед сделкой
type Validator struct {
	cfg config.RiskConfig
}

// NewValidator создаёт валидатор с границами из конфигурации
func NewValidator(cfg config.RiskConfig) *Validator {
	return &Validator{cfg: cfg}
}

// ValidatePreTrade прогоняет пять проверок и агрегирует результат:
// OverallRisk = максимум серьёзности, CanProceed = все прошли и риск
// не CRITICAL. Проваленные проверки становятся блокирующими issues,
// прошедшие с MEDIUM/HIGH попадают в warnings.
func (v *Validator) ValidatePreTrade(sizing *domain.SizingResult, extended, tradexyz *domain.BalanceSnapshot, price float64, maintenanceMargins map[domain.ExchangeName]float64) *domain.RiskAssessment {
	checks := []domain.RiskCheck{
		v.checkMinBalance(extended, tradexyz),
		v.checkPositionLimits(sizing),
		v.checkMarginSufficiency(sizing, extended, tradexyz),
		v.checkLiquidationDistance(sizing, price, maintenanceMargins),
		v.checkLeverageBounds(sizing),
	}

	assessment := &domain.RiskAssessment{
		Checks:      checks,
		Passed:      true,
		OverallRisk: domain.RiskLow,
	}
	for _, check := range checks {
		if check.Severity > assessment.OverallRisk {
			assessment.OverallRisk = check.Severity
		}
		if !check.Passed {
			assessment.Passed = false
			assessment.Issues = append(assessment.Issues, check.Message)
		} else if check.Severity >= domain.RiskMedium {
			assessment.Warnings = append(assessment.Warnings, check.Message)
		}
	}
	assessment.CanProceed = assessment.Passed && assessment.OverallRisk != domain.RiskCritical
	return assessment
}

func (v *Validator) checkMinBalance(extended, tradexyz *domain.BalanceSnapshot) domain.RiskCheck {
	lower := extended.Available
	if tradexyz.Available < lower {
		lower = tradexyz.Available
	}

	check := domain.RiskCheck{
		Name: "min_balance",
		Details: map[string]float64{
			"extended_available": extended.Available,
			"tradexyz_available": tradexyz.Available,
			"floor":              v.cfg.MinBalanceUSD,
		},
	}
	switch {
	case lower < v.cfg.MinBalanceUSD:
		check.Severity = domain.RiskCritical
		check.Message = fmt.Sprintf("balance %.2f below minimum %.2f", lower, v.cfg.MinBalanceUSD)
	case lower < 2*v.cfg.MinBalanceUSD:
		check.Passed = true
		check.Severity = domain.RiskMedium
		check.Message = fmt.Sprintf("balance %.2f close to minimum %.2f", lower, v.cfg.MinBalanceUSD)
	default:
		check.Passed = true
		check.Severity = domain.RiskLow
		check.Message = "balances above minimum"
	}
	return check
}

func (v *Validator) checkPositionLimits(sizing *domain.SizingResult) domain.RiskCheck {
	check := domain.RiskCheck{
		Name: "position_limits",
		Details: map[string]float64{
			"notional": sizing.NotionalValue,
			"max":      v.cfg.MaxPositionValueUSD,
		},
	}
	switch {
	case sizing.PositionSize <= 0:
		check.Severity = domain.RiskCritical
		check.Message = "position size is not positive"
	case sizing.NotionalValue > v.cfg.MaxPositionValueUSD:
		check.Severity = domain.RiskHigh
		check.Message = fmt.Sprintf("notional %.2f exceeds cap %.2f",
			sizing.NotionalValue, v.cfg.MaxPositionValueUSD)
	default:
		check.Passed = true
		check.Severity = domain.RiskLow
		check.Message = "position within limits"
	}
	return check
}

func (v *Validator) checkMarginSufficiency(sizing *domain.SizingResult, extended, tradexyz *domain.BalanceSnapshot) domain.RiskCheck {
	required := sizing.MarginPerLeg * (1 + marginBufferRatio)
	check := domain.RiskCheck{
		Name: "margin_sufficiency",
		Details: map[string]float64{
			"required_with_buffer": required,
			"extended_available":   extended.Available,
			"tradexyz_available":   tradexyz.Available,
		},
	}

	if extended.Available < required || tradexyz.Available < required {
		check.Severity = domain.RiskHigh
		check.Message = fmt.Sprintf("available margin below required %.2f with buffer", required)
		return check
	}

	check.Passed = true
	check.Severity = domain.RiskLow
	check.Message = "margin sufficient"

	utilization := 0.0
	if extended.Equity > 0 {
		utilization = (extended.MarginUsed + sizing.MarginPerLeg) / extended.Equity
	}
	if tradexyz.Equity > 0 {
		xyzUtil := (tradexyz.MarginUsed + sizing.MarginPerLeg) / tradexyz.Equity
		if xyzUtil > utilization {
			utilization = xyzUtil
		}
	}
	if utilization > marginUtilizationWarn {
		check.Severity = domain.RiskMedium
		check.Message = fmt.Sprintf("margin utilization %.0f%% above %.0f%%",
			utilization*100, marginUtilizationWarn*100)
	}
	return check
}

// checkLiquidationDistance оценивает дистанцию до ликвидации по
// приближению 1/leverage - maintenanceMarginRate
func (v *Validator) checkLiquidationDistance(sizing *domain.SizingResult, price float64, maintenanceMargins map[domain.ExchangeName]float64) domain.RiskCheck {
	check := domain.RiskCheck{Name: "liquidation_distance", Details: map[string]float64{}}

	if sizing.Leverage <= 0 || price <= 0 {
		check.Severity = domain.RiskCritical
		check.Message = fmt.Sprintf("invalid leverage %d or price %.2f", sizing.Leverage, price)
		return check
	}

	worst := 1.0
	for _, venue := range []domain.ExchangeName{domain.ExchangeExtended, domain.ExchangeTradeXYZ} {
		mm := defaultMaintenanceMargin
		if rate, ok := maintenanceMargins[venue]; ok && rate > 0 {
			mm = rate
		}
		distance := 1.0/float64(sizing.Leverage) - mm
		check.Details[string(venue)+"_distance"] = distance
		if distance < worst {
			worst = distance
		}
	}

	switch {
	case worst < liqDistanceFail:
		check.Severity = domain.RiskHigh
		check.Message = fmt.Sprintf("liquidation distance %.1f%% below %.0f%%",
			worst*100, liqDistanceFail*100)
	case worst < liqDistanceWarn:
		check.Passed = true
		check.Severity = domain.RiskMedium
		check.Message = fmt.Sprintf("liquidation distance %.1f%% is tight", worst*100)
	default:
		check.Passed = true
		check.Severity = domain.RiskLow
		check.Message = "liquidation distance acceptable"
	}
	return check
}

func (v *Validator) checkLeverageBounds(sizing *domain.SizingResult) domain.RiskCheck {
	check := domain.RiskCheck{
		Name: "leverage_bounds",
		Details: map[string]float64{
			"leverage": float64(sizing.Leverage),
			"min":      float64(v.cfg.MinLeverage),
			"max":      float64(v.cfg.MaxLeverage),
		},
	}
	switch {
	case sizing.Leverage > v.cfg.MaxLeverage:
		check.Severity = domain.RiskHigh
		check.Message = fmt.Sprintf("leverage %d above max %d", sizing.Leverage, v.cfg.MaxLeverage)
	case sizing.Leverage < v.cfg.MinLeverage:
		// Недобор плеча безопасен и не блокирует сделку
		check.Passed = true
		check.Severity = domain.RiskLow
		check.Message = fmt.Sprintf("leverage %d below min %d", sizing.Leverage, v.cfg.MinLeverage)
	case sizing.Leverage > softLeverageWarn:
		check.Passed = true
		check.Severity = domain.RiskMedium
		check.Message = fmt.Sprintf("leverage %d is aggressive", sizing.Leverage)
	default:
		check.Passed = true
		check.Severity = domain.RiskLow
		check.Message = "leverage within bounds"
	}
	return check
}
