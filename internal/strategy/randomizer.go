package strategy

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/kirillm/delta-bot/internal/config"
	"github.com/kirillm/delta-bot/internal/domain"
)

// Randomizer генерирует параметры цикла из OS-энтропии (crypto/rand).
// Никогда не использует seedable-генератор: воспроизводимая
// последовательность позволила бы внешнему наблюдателю предсказывать
// тайминг и поведение бота.
type Randomizer struct {
	cfg config.RiskConfig
}

// NewRandomizer создаёт рандомизатор с границами из конфигурации
func NewRandomizer(cfg config.RiskConfig) *Randomizer {
	return &Randomizer{cfg: cfg}
}

// GenerateCycleParams генерирует параметры нового цикла. Числовые
// диапазоны сэмплируются как дискретные равномерные сетки: equity usage
// по 1000 шагам, плечо и длительности по целым значениям.
func (r *Randomizer) GenerateCycleParams() (*domain.CycleParams, error) {
	tokenIdx, err := randInt(int64(len(domain.SupportedTokens)))
	if err != nil {
		return nil, fmt.Errorf("failed to draw token: %w", err)
	}

	step, err := randInt(domain.RandomizationSteps + 1)
	if err != nil {
		return nil, fmt.Errorf("failed to draw equity usage: %w", err)
	}
	equity := r.cfg.MinEquityUsage +
		(r.cfg.MaxEquityUsage-r.cfg.MinEquityUsage)*float64(step)/float64(domain.RandomizationSteps)

	leverage, err := randRange(int64(r.cfg.MinLeverage), int64(r.cfg.MaxLeverage))
	if err != nil {
		return nil, fmt.Errorf("failed to draw leverage: %w", err)
	}

	holdSec, err := randRange(int64(r.cfg.MinHold.Seconds()), int64(r.cfg.MaxHold.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to draw hold duration: %w", err)
	}

	cooldownSec, err := randRange(int64(r.cfg.MinCooldown.Seconds()), int64(r.cfg.MaxCooldown.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to draw cooldown: %w", err)
	}

	return &domain.CycleParams{
		Token:       domain.SupportedTokens[tokenIdx],
		EquityUsage: equity,
		Leverage:    int(leverage),
		Hold:        time.Duration(holdSec) * time.Second,
		Cooldown:    time.Duration(cooldownSec) * time.Second,
	}, nil
}

// AssignSidesRandom распределяет стороны честной монетой
func (r *Randomizer) AssignSidesRandom() (extended, tradexyz domain.Side, err error) {
	coin, err := randInt(2)
	if err != nil {
		return "", "", fmt.Errorf("failed to draw side: %w", err)
	}
	if coin == 0 {
		return domain.SideLong, domain.SideShort, nil
	}
	return domain.SideShort, domain.SideLong, nil
}

// AssignSidesWithBias распределяет стороны со смещением по funding:
// биржа, которой выгоднее быть в шорте, получает шорт с вероятностью
// весовой категории. Выгодная сторона никогда не берётся
// детерминированно.
func (r *Randomizer) AssignSidesWithBias(analysis *domain.FundingAnalysis) (extended, tradexyz domain.Side, err error) {
	weight, ok := domain.BiasWeights[analysis.Bias]
	if !ok {
		weight = 0.5
	}

	draw, err := randInt(domain.RandomizationSteps)
	if err != nil {
		return "", "", fmt.Errorf("failed to draw biased side: %w", err)
	}
	favored := float64(draw)/float64(domain.RandomizationSteps) < weight

	shortVenue := analysis.RecommendedShort
	if !favored {
		shortVenue = analysis.RecommendedLong
	}

	if shortVenue == domain.ExchangeExtended {
		return domain.SideShort, domain.SideLong, nil
	}
	return domain.SideLong, domain.SideShort, nil
}

// Nonce возвращает непредсказуемый 64-битный nonce
func (r *Randomizer) Nonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read entropy: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// ExternalID возвращает 128-битный hex-идентификатор для
// идемпотентной маркировки ордеров
func (r *Randomizer) ExternalID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// randInt равномерный [0, n)
func randInt(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// randRange равномерный [lo, hi] включительно
func randRange(lo, hi int64) (int64, error) {
	if hi <= lo {
		return lo, nil
	}
	v, err := randInt(hi - lo + 1)
	if err != nil {
		return 0, err
	}
	return lo + v, nil
}
