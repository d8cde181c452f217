package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kirillm/delta-bot/internal/config"
	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/exchange"
	"github.com/kirillm/delta-bot/internal/execution"
	"github.com/kirillm/delta-bot/internal/strategy"
	"github.com/kirillm/delta-bot/pkg/utils"
)

// Живые лимиты жёстче конфигурируемых: превышение блокирует старт,
// а не урезается молча
const (
	liveMaxLeverage    = 10
	liveMaxEquityUsage = 0.50
)

// Orchestrator ведёт полный цикл дельта-нейтрального арбитража:
// генерация параметров, анализ funding, расчёт размера, проверка риска,
// атомарное открытие пары ног, удержание, закрытие и учёт PnL.
type Orchestrator struct {
	cfg      *config.Config
	extended exchange.Exchange
	tradexyz exchange.Exchange

	randomizer *strategy.Randomizer
	sizer      *strategy.Sizer
	validator  *strategy.Validator
	pnl        *strategy.PnLCalculator
	executor   *execution.AtomicExecutor
	monitor    *execution.Monitor
	prices     *execution.PriceFailover
	log        zerolog.Logger

	mu         sync.Mutex
	state      domain.CycleState
	lastResult *domain.CycleResult
	cyclesRun  int
	running    bool
}

// Status снимок состояния оркестратора для API и уведомлений
type Status struct {
	State               domain.CycleState
	Running             bool
	CyclesRun           int
	ConsecutiveFailures int
	EmergencyTriggered  bool
	ShutdownRequested   bool
	LastResult          *domain.CycleResult
}

// New создаёт оркестратор. В live-режиме отказывается стартовать с
// агрессивными границами: максимальное плечо и доля капитала должны
// укладываться в живые лимиты.
func New(cfg *config.Config, extended, tradexyz exchange.Exchange, monitor *execution.Monitor, log zerolog.Logger) (*Orchestrator, error) {
	if cfg.Trading.Live {
		if cfg.Risk.MaxLeverage > liveMaxLeverage {
			return nil, fmt.Errorf("live trading with max leverage %d exceeds limit %d",
				cfg.Risk.MaxLeverage, liveMaxLeverage)
		}
		if cfg.Risk.MaxEquityUsage > liveMaxEquityUsage {
			return nil, fmt.Errorf("live trading with max equity usage %.2f exceeds limit %.2f",
				cfg.Risk.MaxEquityUsage, liveMaxEquityUsage)
		}
	}

	randomizer := strategy.NewRandomizer(cfg.Risk)
	executor := execution.NewAtomicExecutor(
		extended, tradexyz, randomizer,
		execution.NewSlippageGuard(cfg.Risk.MaxSlippagePercent),
		cfg.Trading.ParallelLegs, cfg.Trading.OrderTimeout, log)

	return &Orchestrator{
		cfg:        cfg,
		extended:   extended,
		tradexyz:   tradexyz,
		randomizer: randomizer,
		sizer:      strategy.NewSizer(cfg.Risk),
		validator:  strategy.NewValidator(cfg.Risk),
		pnl:        strategy.NewPnLCalculator(),
		executor:   executor,
		monitor:    monitor,
		prices:     execution.NewPriceFailover(extended, tradexyz, log),
		state:      domain.StateIdle,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Start подключает биржи и запускает фоновый safety-цикл и обработку
// сигналов. Сами торговые циклы запускаются отдельно через RunCycle
// или RunContinuous.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.mu.Unlock()

	if err := o.extended.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to extended: %w", err)
	}
	if err := o.tradexyz.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to tradexyz: %w", err)
	}

	o.monitor.HandleSignals()
	go o.monitor.RunSafetyLoop(ctx)

	o.log.Info().Bool("live", o.cfg.Trading.Live).
		Bool("parallel_legs", o.cfg.Trading.ParallelLegs).
		Msg("orchestrator started")
	return nil
}

// Stop отключает биржи
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	if err := o.extended.Disconnect(ctx); err != nil {
		o.log.Warn().Err(err).Msg("extended disconnect failed")
	}
	if err := o.tradexyz.Disconnect(ctx); err != nil {
		o.log.Warn().Err(err).Msg("tradexyz disconnect failed")
	}
	o.log.Info().Msg("orchestrator stopped")
}

// Status возвращает снимок текущего состояния
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:               o.state,
		Running:             o.running,
		CyclesRun:           o.cyclesRun,
		ConsecutiveFailures: o.monitor.State().ConsecutiveFailures(),
		EmergencyTriggered:  o.monitor.State().EmergencyTriggered(),
		ShutdownRequested:   o.monitor.State().ShutdownRequested(),
		LastResult:          o.lastResult,
	}
}

// Monitor возвращает процессный watchdog
func (o *Orchestrator) Monitor() *execution.Monitor {
	return o.monitor
}

// RequestShutdown запрашивает мягкую остановку после текущего цикла
func (o *Orchestrator) RequestShutdown() {
	o.monitor.State().RequestShutdown()
}

// RunContinuous крутит циклы до запроса остановки или аварии. Между
// циклами выдерживается случайный cooldown из параметров завершённого
// цикла.
func (o *Orchestrator) RunContinuous(ctx context.Context) {
	for {
		if o.monitor.State().ShutdownRequested() {
			o.log.Info().Msg("shutdown requested, stopping cycle loop")
			return
		}
		if o.monitor.State().EmergencyTriggered() {
			o.log.Error().Msg("emergency active, stopping cycle loop")
			return
		}
		if ctx.Err() != nil {
			return
		}

		result := o.RunCycle(ctx)

		cooldown := o.cfg.Risk.MinCooldown
		if result.Params != nil && result.Params.Cooldown > 0 {
			cooldown = result.Params.Cooldown
		}
		o.log.Info().Str("cycle_id", result.CycleID).
			Bool("success", result.Success).
			Str("cooldown", utils.FormatDuration(cooldown)).
			Msg("cycle finished, entering cooldown")

		o.setState(domain.StateCooldown)
		if !utils.SleepCtx(ctx, cooldown) {
			return
		}
	}
}

// RunCycle выполняет один полный цикл. Никогда не возвращает nil:
// любой отказ, включая самые ранние, зафиксирован в CycleResult.
func (o *Orchestrator) RunCycle(ctx context.Context) *domain.CycleResult {
	cycleID := uuid.NewString()
	builder := execution.NewResultBuilder(cycleID)
	log := o.log.With().Str("cycle_id", cycleID).Logger()

	if o.monitor.State().EmergencyTriggered() {
		return o.finish(builder.Fail(domain.StateEmergency, "emergency active, trading halted").Build())
	}
	if o.monitor.State().ShutdownRequested() {
		return o.finish(builder.Fail(domain.StateIdle, "shutdown requested").Build())
	}

	// 1. Случайные параметры цикла
	params, err := o.randomizer.GenerateCycleParams()
	if err != nil {
		o.monitor.RecordFailure()
		return o.finish(builder.Fail(domain.StateError,
			fmt.Sprintf("failed to generate cycle params: %v", err)).Build())
	}
	builder.SetParams(params)
	log.Info().Str("token", params.Token).
		Float64("equity_usage", params.EquityUsage).
		Int("leverage", params.Leverage).
		Str("hold", utils.FormatDuration(params.Hold)).
		Msg("cycle parameters generated")

	o.setState(domain.StateOpening)
	builder.SetState(domain.StateOpening)

	// 2. Балансы и рыночные данные обеих бирж
	snap, err := o.fetchSnapshot(ctx, params.Token)
	if err != nil {
		o.monitor.RecordFailure()
		return o.finish(builder.Fail(domain.StateError, err.Error()).Build())
	}

	// 3. Анализ funding и розыгрыш сторон со смещением. Номинал ещё
	// не известен, оценка дохода пересчитывается после расчёта размера.
	funding := strategy.AnalyzeFunding(params.Token,
		snap.extMarket.FundingRate, snap.xyzMarket.FundingRate, 0)
	builder.SetFunding(funding)

	extSide, xyzSide, err := o.assignSides(funding)
	if err != nil {
		o.monitor.RecordFailure()
		return o.finish(builder.Fail(domain.StateError,
			fmt.Sprintf("failed to assign sides: %v", err)).Build())
	}
	builder.SetSides(extSide, xyzSide)
	log.Info().Str("extended_side", string(extSide)).
		Str("tradexyz_side", string(xyzSide)).
		Str("bias", string(funding.Bias)).
		Float64("rate_diff", funding.RateDiff).
		Msg("sides assigned")

	// 4. Размер позиции из ограничивающего баланса. Отказ валидации —
	// тоже неудачный цикл: серия отказов эскалируется как системный сбой
	sizing := o.sizer.CalculateSize(params.Token, snap.price,
		snap.extBalance, snap.xyzBalance, params.EquityUsage, params.Leverage,
		snap.minOrderSize, snap.sizeStep)
	builder.SetSizing(sizing)
	if !sizing.FitsConstraints {
		o.monitor.RecordFailure()
		log.Warn().Strs("notes", sizing.Notes).Msg("sizing does not fit constraints, cycle rejected")
		return o.finish(builder.Fail(domain.StateError, "sizing does not fit constraints").Build())
	}

	funding = strategy.AnalyzeFunding(params.Token,
		snap.extMarket.FundingRate, snap.xyzMarket.FundingRate, sizing.NotionalValue)
	builder.SetFunding(funding)

	// 5. Предторговая проверка риска
	risk := o.validator.ValidatePreTrade(sizing, snap.extBalance, snap.xyzBalance, snap.price, nil)
	builder.SetRisk(risk)
	if !risk.CanProceed {
		o.monitor.RecordFailure()
		log.Warn().Strs("issues", risk.Issues).Msg("risk validation blocked cycle")
		return o.finish(builder.Fail(domain.StateError,
			fmt.Sprintf("risk validation failed: %s", risk.OverallRisk)).Build())
	}

	// 6. Атомарное открытие обеих ног
	o.monitor.State().AddMonitored(params.Token)
	open := o.executor.OpenPositions(ctx, params.Token, sizing.PositionSize,
		extSide, xyzSide, params.Leverage, snap.price)
	builder.SetOpenResult(open)
	if !open.Success {
		o.monitor.State().RemoveMonitored(params.Token)
		o.monitor.RecordFailure()
		if open.RollbackPerformed && !open.RollbackSuccess {
			// Откат не прошёл: на одной бирже осталась голая нога
			o.monitor.ExecuteEmergency(ctx,
				fmt.Sprintf("rollback failed after partial open: %s", open.Error))
			return o.finish(builder.Fail(domain.StateEmergency, open.Error).Build())
		}
		return o.finish(builder.Fail(domain.StateError,
			fmt.Sprintf("open failed: %s", open.Error)).Build())
	}
	log.Info().Float64("size", sizing.PositionSize).
		Float64("notional", sizing.NotionalValue).
		Msg("both legs open, holding")

	// 7. Удержание с периодической проверкой флагов безопасности
	o.setState(domain.StateHolding)
	builder.SetState(domain.StateHolding)
	held, emergency := o.hold(ctx, params.Hold)
	builder.SetHeldFor(held)
	if emergency {
		// Аварийная ликвидация сама закрывает обе ноги, обычное
		// закрытие не выполняется
		o.monitor.State().RemoveMonitored(params.Token)
		return o.finish(builder.Fail(domain.StateEmergency,
			"emergency triggered during hold").Build())
	}

	// 8. Закрытие обеих ног
	o.setState(domain.StateClosing)
	builder.SetState(domain.StateClosing)
	closeRes := o.executor.ClosePositions(ctx, params.Token,
		open.ExtendedLeg.FilledQty, open.TradeXYZLeg.FilledQty)
	builder.SetCloseResult(closeRes)
	o.monitor.State().RemoveMonitored(params.Token)
	if !closeRes.Success {
		o.monitor.RecordFailure()
		return o.finish(builder.Fail(domain.StateError,
			fmt.Sprintf("close failed: %s", closeRes.Error)).Build())
	}

	// 9. Funding и PnL по фактическим сторонам
	rateDiff := snap.xyzMarket.FundingRate - snap.extMarket.FundingRate
	if extSide == domain.SideShort {
		rateDiff = snap.extMarket.FundingRate - snap.xyzMarket.FundingRate
	}
	fundingEarned := o.pnl.EstimateFunding(sizing.NotionalValue, rateDiff, held)
	builder.SetFundingEarned(fundingEarned)
	builder.SetPnL(o.pnl.FromFills(open, closeRes, extSide, fundingEarned))

	o.monitor.RecordSuccess()
	result := o.finish(builder.SetState(domain.StateCooldown).Succeed().Build())
	log.Info().Float64("funding_earned", fundingEarned).
		Str("held", utils.FormatDuration(held)).
		Msg("cycle completed")
	return result
}

// venueSnapshot собранные перед циклом данные обеих бирж
type venueSnapshot struct {
	extBalance *domain.BalanceSnapshot
	xyzBalance *domain.BalanceSnapshot
	extMarket  *domain.MarketInfo
	xyzMarket  *domain.MarketInfo

	price        float64
	minOrderSize float64
	sizeStep     float64
}

func (o *Orchestrator) fetchSnapshot(ctx context.Context, token string) (*venueSnapshot, error) {
	snap := &venueSnapshot{}

	var err error
	if snap.extBalance, err = o.extended.GetBalance(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch extended balance: %w", err)
	}
	if snap.xyzBalance, err = o.tradexyz.GetBalance(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch tradexyz balance: %w", err)
	}

	extSymbol, err := o.extended.Symbol(token)
	if err != nil {
		return nil, err
	}
	xyzSymbol, err := o.tradexyz.Symbol(token)
	if err != nil {
		return nil, err
	}
	if snap.extMarket, err = o.extended.GetMarketInfo(ctx, extSymbol); err != nil {
		return nil, fmt.Errorf("failed to fetch extended market: %w", err)
	}
	if snap.xyzMarket, err = o.tradexyz.GetMarketInfo(ctx, xyzSymbol); err != nil {
		return nil, fmt.Errorf("failed to fetch tradexyz market: %w", err)
	}

	if snap.price, err = o.prices.GetMarkPrice(ctx, token); err != nil {
		return nil, err
	}

	// Более грубые ограничения из двух бирж: размер должен проходить на обеих
	snap.minOrderSize = snap.extMarket.MinOrderSize
	if snap.xyzMarket.MinOrderSize > snap.minOrderSize {
		snap.minOrderSize = snap.xyzMarket.MinOrderSize
	}
	snap.sizeStep = snap.extMarket.SizeStep
	if snap.xyzMarket.SizeStep > snap.sizeStep {
		snap.sizeStep = snap.xyzMarket.SizeStep
	}
	return snap, nil
}

// assignSides выбирает розыгрыш сторон: смещённый при значимой разнице
// funding, честная монета при шуме
func (o *Orchestrator) assignSides(funding *domain.FundingAnalysis) (domain.Side, domain.Side, error) {
	if funding.Bias == domain.BiasNone {
		return o.randomizer.AssignSidesRandom()
	}
	return o.randomizer.AssignSidesWithBias(funding)
}

// hold удерживает позицию, опрашивая флаги безопасности каждые
// HoldCheckInterval. Возвращает фактическое время удержания и признак
// аварии. Запрос shutdown завершает удержание досрочно с обычным
// закрытием.
func (o *Orchestrator) hold(ctx context.Context, duration time.Duration) (time.Duration, bool) {
	started := time.Now()
	deadline := started.Add(duration)

	for {
		if o.monitor.State().EmergencyTriggered() {
			return time.Since(started), true
		}
		if o.monitor.State().ShutdownRequested() {
			o.log.Info().Msg("shutdown requested during hold, closing early")
			return time.Since(started), false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Since(started), false
		}
		step := domain.HoldCheckInterval
		if remaining < step {
			step = remaining
		}
		if !utils.SleepCtx(ctx, step) {
			return time.Since(started), false
		}
	}
}

func (o *Orchestrator) setState(state domain.CycleState) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

// finish фиксирует результат как последний завершённый цикл
func (o *Orchestrator) finish(result *domain.CycleResult) *domain.CycleResult {
	o.mu.Lock()
	o.lastResult = result
	o.cyclesRun++
	o.state = result.State
	o.mu.Unlock()
	return result
}
