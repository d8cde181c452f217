package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillm/delta-bot/internal/domain"
)

// Config содержит все настройки приложения
type Config struct {
	Extended  ExchangeConfig
	TradeXYZ  ExchangeConfig
	Telegram  TelegramConfig
	API       APIConfig
	Trading   TradingConfig
	Risk      RiskConfig
	LogLevel  string
	LogPretty bool
}

type ExchangeConfig struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	RequestsPerMinute int
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

type APIConfig struct {
	Enabled bool
	Addr    string
}

type TradingConfig struct {
	Live         bool
	ParallelLegs bool
	APITimeout   time.Duration
	OrderTimeout time.Duration
}

// RiskConfig числовые границы, инжектируемые в оркестратор.
// Значения по умолчанию могут переопределяться YAML-профилем риска.
type RiskConfig struct {
	MinEquityUsage         float64
	MaxEquityUsage         float64
	MinLeverage            int
	MaxLeverage            int
	MinHold                time.Duration
	MaxHold                time.Duration
	MinCooldown            time.Duration
	MaxCooldown            time.Duration
	MinPositionValueUSD    float64
	MaxPositionValueUSD    float64
	MinBalanceUSD          float64
	MaxConsecutiveFailures int
	MaxSlippagePercent     float64
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	live, err := strconv.ParseBool(getEnv("LIVE_TRADING", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LIVE_TRADING: %w", err)
	}

	parallelLegs, err := strconv.ParseBool(getEnv("PARALLEL_LEGS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid PARALLEL_LEGS: %w", err)
	}

	apiEnabled, err := strconv.ParseBool(getEnv("API_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_ENABLED: %w", err)
	}

	logPretty, err := strconv.ParseBool(getEnv("LOG_PRETTY", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_PRETTY: %w", err)
	}

	apiTimeout, err := time.ParseDuration(getEnv("API_TIMEOUT", domain.DefaultAPITimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid API_TIMEOUT: %w", err)
	}

	orderTimeout, err := time.ParseDuration(getEnv("ORDER_TIMEOUT", domain.DefaultOrderTimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid ORDER_TIMEOUT: %w", err)
	}

	extRPM, err := strconv.Atoi(getEnv("EXTENDED_REQUESTS_PER_MINUTE", strconv.Itoa(domain.DefaultRequestsPerMinute)))
	if err != nil {
		return nil, fmt.Errorf("invalid EXTENDED_REQUESTS_PER_MINUTE: %w", err)
	}

	xyzRPM, err := strconv.Atoi(getEnv("TRADEXYZ_REQUESTS_PER_MINUTE", strconv.Itoa(domain.DefaultRequestsPerMinute)))
	if err != nil {
		return nil, fmt.Errorf("invalid TRADEXYZ_REQUESTS_PER_MINUTE: %w", err)
	}

	risk := defaultRisk()
	if path := getEnv("RISK_PROFILES_PATH", ""); path != "" {
		profile := getEnv("RISK_PROFILE", "moderate")
		if err := applyProfile(&risk, path, profile); err != nil {
			return nil, fmt.Errorf("failed to load risk profile: %w", err)
		}
	}

	config := &Config{
		Extended: ExchangeConfig{
			APIKey:            getEnv("EXTENDED_API_KEY", ""),
			APISecret:         getEnv("EXTENDED_API_SECRET", ""),
			BaseURL:           getEnv("EXTENDED_BASE_URL", "https://api.extended.exchange"),
			RequestsPerMinute: extRPM,
		},
		TradeXYZ: ExchangeConfig{
			APIKey:            getEnv("TRADEXYZ_API_KEY", ""),
			APISecret:         getEnv("TRADEXYZ_API_SECRET", ""),
			BaseURL:           getEnv("TRADEXYZ_BASE_URL", "https://api.trade.xyz"),
			RequestsPerMinute: xyzRPM,
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   chatID,
		},
		API: APIConfig{
			Enabled: apiEnabled,
			Addr:    getEnv("API_ADDR", ":8080"),
		},
		Trading: TradingConfig{
			Live:         live,
			ParallelLegs: parallelLegs,
			APITimeout:   apiTimeout,
			OrderTimeout: orderTimeout,
		},
		Risk:      risk,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: logPretty,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func defaultRisk() RiskConfig {
	return RiskConfig{
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

// Validate проверяет конфигурацию. В live-режиме placeholder-ключи
// недопустимы: бот должен отказаться стартовать, а не тихо симулировать.
func (c *Config) Validate() error {
	if c.Trading.Live {
		if isPlaceholder(c.Extended.APIKey) || isPlaceholder(c.Extended.APISecret) {
			return fmt.Errorf("EXTENDED_API_KEY/SECRET must be set for live trading")
		}
		if isPlaceholder(c.TradeXYZ.APIKey) || isPlaceholder(c.TradeXYZ.APISecret) {
			return fmt.Errorf("TRADEXYZ_API_KEY/SECRET must be set for live trading")
		}
	}
	if c.Risk.MinEquityUsage <= 0 || c.Risk.MaxEquityUsage > 1 ||
		c.Risk.MinEquityUsage > c.Risk.MaxEquityUsage {
		return fmt.Errorf("invalid equity usage bounds: [%.2f, %.2f]",
			c.Risk.MinEquityUsage, c.Risk.MaxEquityUsage)
	}
	if c.Risk.MinLeverage < 1 || c.Risk.MinLeverage > c.Risk.MaxLeverage {
		return fmt.Errorf("invalid leverage bounds: [%d, %d]",
			c.Risk.MinLeverage, c.Risk.MaxLeverage)
	}
	if c.Risk.MinHold <= 0 || c.Risk.MinHold > c.Risk.MaxHold {
		return fmt.Errorf("invalid hold bounds: [%s, %s]", c.Risk.MinHold, c.Risk.MaxHold)
	}
	if c.Risk.MinCooldown <= 0 || c.Risk.MinCooldown > c.Risk.MaxCooldown {
		return fmt.Errorf("invalid cooldown bounds: [%s, %s]", c.Risk.MinCooldown, c.Risk.MaxCooldown)
	}
	if c.Risk.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("MAX_CONSECUTIVE_FAILURES must be >= 1")
	}
	return nil
}

// isPlaceholder распознаёт пустые и шаблонные значения ключей из .env.example
func isPlaceholder(v string) bool {
	if v == "" {
		return true
	}
	lower := strings.ToLower(v)
	for _, marker := range []string{"your_", "placeholder", "changeme", "xxx"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
