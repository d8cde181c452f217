package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile YAML-профиль риска. Заданные поля переопределяют дефолтные
// границы RiskConfig; нулевые значения оставляют дефолт.
type Profile struct {
	MinEquityUsage         float64 `yaml:"min_equity_usage"`
	MaxEquityUsage         float64 `yaml:"max_equity_usage"`
	MinLeverage            int     `yaml:"min_leverage"`
	MaxLeverage            int     `yaml:"max_leverage"`
	MinHoldSeconds         int     `yaml:"min_hold_seconds"`
	MaxHoldSeconds         int     `yaml:"max_hold_seconds"`
	MinCooldownSeconds     int     `yaml:"min_cooldown_seconds"`
	MaxCooldownSeconds     int     `yaml:"max_cooldown_seconds"`
	MinPositionValueUSD    float64 `yaml:"min_position_value_usd"`
	MaxPositionValueUSD    float64 `yaml:"max_position_value_usd"`
	MinBalanceUSD          float64 `yaml:"min_balance_usd"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	MaxSlippagePercent     float64 `yaml:"max_slippage_percent"`
}

// applyProfile загружает risk_profiles из YAML и накладывает выбранный
// профиль поверх дефолтных границ
func applyProfile(risk *RiskConfig, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file struct {
		RiskProfiles map[string]Profile `yaml:"risk_profiles"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	profile, ok := file.RiskProfiles[name]
	if !ok {
		return fmt.Errorf("risk profile %q not found in %s", name, path)
	}

	if profile.MinEquityUsage > 0 {
		risk.MinEquityUsage = profile.MinEquityUsage
	}
	if profile.MaxEquityUsage > 0 {
		risk.MaxEquityUsage = profile.MaxEquityUsage
	}
	if profile.MinLeverage > 0 {
		risk.MinLeverage = profile.MinLeverage
	}
	if profile.MaxLeverage > 0 {
		risk.MaxLeverage = profile.MaxLeverage
	}
	if profile.MinHoldSeconds > 0 {
		risk.MinHold = time.Duration(profile.MinHoldSeconds) * time.Second
	}
	if profile.MaxHoldSeconds > 0 {
		risk.MaxHold = time.Duration(profile.MaxHoldSeconds) * time.Second
	}
	if profile.MinCooldownSeconds > 0 {
		risk.MinCooldown = time.Duration(profile.MinCooldownSeconds) * time.Second
	}
	if profile.MaxCooldownSeconds > 0 {
		risk.MaxCooldown = time.Duration(profile.MaxCooldownSeconds) * time.Second
	}
	if profile.MinPositionValueUSD > 0 {
		risk.MinPositionValueUSD = profile.MinPositionValueUSD
	}
	if profile.MaxPositionValueUSD > 0 {
		risk.MaxPositionValueUSD = profile.MaxPositionValueUSD
	}
	if profile.MinBalanceUSD > 0 {
		risk.MinBalanceUSD = profile.MinBalanceUSD
	}
	if profile.MaxConsecutiveFailures > 0 {
		risk.MaxConsecutiveFailures = profile.MaxConsecutiveFailures
	}
	if profile.MaxSlippagePercent > 0 {
		risk.MaxSlippagePercent = profile.MaxSlippagePercent
	}

	return nil
}
