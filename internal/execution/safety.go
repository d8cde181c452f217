package execution

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/exchange"
)

// Подряд неудачных итераций safety-цикла до эскалации потери связи
const livenessFailureLimit = 3

// SafetyState процессное состояние безопасности. Переходы строго
// односторонние: счётчик неудач сбрасывается только успехом, флаги
// emergency и shutdown после установки не снимаются.
type SafetyState struct {
	failures  atomic.Int32
	emergency atomic.Bool
	shutdown  atomic.Bool

	mu        sync.Mutex
	monitored map[string]bool
}

// NewSafetyState создаёт чистое состояние
func NewSafetyState() *SafetyState {
	return &SafetyState{monitored: make(map[string]bool)}
}

// ConsecutiveFailures возвращает текущий счётчик подряд идущих неудач
func (s *SafetyState) ConsecutiveFailures() int {
	return int(s.failures.Load())
}

// EmergencyTriggered сообщает, активирован ли аварийный режим
func (s *SafetyState) EmergencyTriggered() bool {
	return s.emergency.Load()
}

// TriggerEmergency активирует аварийный режим (необратимо)
func (s *SafetyState) TriggerEmergency() {
	s.emergency.Store(true)
}

// ShutdownRequested сообщает, запрошена ли остановка
func (s *SafetyState) ShutdownRequested() bool {
	return s.shutdown.Load()
}

// RequestShutdown запрашивает мягкую остановку (необратимо)
func (s *SafetyState) RequestShutdown() {
	s.shutdown.Store(true)
}

// AddMonitored регистрирует токен, захеджированный на обеих биржах
func (s *SafetyState) AddMonitored(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitored[token] = true
}

// RemoveMonitored снимает токен с мониторинга
func (s *SafetyState) RemoveMonitored(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitored, token)
}

// MonitoredTokens возвращает снимок отслеживаемых токенов
func (s *SafetyState) MonitoredTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]string, 0, len(s.monitored))
	for token := range s.monitored {
		tokens = append(tokens, token)
	}
	return tokens
}

// Monitor процессный watchdog: счётчик подряд идущих неудач циклов,
// сверка exposure, аварийная ликвидация и обработка сигналов.
// Живёт всё время процесса, не внутри отдельного цикла.
type Monitor struct {
	extended exchange.Exchange
	tradexyz exchange.Exchange
	state    *SafetyState
	log      zerolog.Logger

	maxFailures int
	notify      func(message string)

	sigOnce sync.Once
}

// NewMonitor создаёт watchdog. notify опционален: вызывается при
// аварийных событиях (nil отключает уведомления).
func NewMonitor(extended, tradexyz exchange.Exchange, state *SafetyState, maxFailures int, notify func(string), log zerolog.Logger) *Monitor {
	if maxFailures <= 0 {
		maxFailures = domain.DefaultMaxConsecutiveFailures
	}
	return &Monitor{
		extended:    extended,
		tradexyz:    tradexyz,
		state:       state,
		maxFailures: maxFailures,
		notify:      notify,
		log:         log.With().Str("component", "safety_monitor").Logger(),
	}
}

// State возвращает общее состояние безопасности
func (m *Monitor) State() *SafetyState {
	return m.state
}

// RecordFailure учитывает неудачный цикл. Достижение потолка подряд
// идущих неудач трактуется как системный сбой, а не невезение:
// необратимо включается аварийный режим и немедленно выполняется
// полная аварийная ликвидация на обеих биржах.
func (m *Monitor) RecordFailure() {
	count := m.state.failures.Add(1)
	m.log.Warn().Int32("consecutive_failures", count).
		Int("limit", m.maxFailures).Msg("cycle failure recorded")

	if int(count) >= m.maxFailures && !m.state.EmergencyTriggered() {
		m.log.Error().Msg("consecutive failure limit reached, emergency triggered")
		// Свежий контекст: зачистка обязана пройти независимо от
		// состояния вызвавшего цикла
		m.ExecuteEmergency(context.Background(),
			fmt.Sprintf("%d consecutive cycle failures", count))
	}
}

// RecordSuccess сбрасывает счётчик неудач
func (m *Monitor) RecordSuccess() {
	m.state.failures.Store(0)
}

// CheckExposure сверяет живые позиции с ожиданиями: каждый отслеживаемый
// токен должен присутствовать ровно на обеих биржах и на противоположных
// сторонах. Расхождение размеров сверх допуска даёт warning, но не
// ошибку.
func (m *Monitor) CheckExposure(ctx context.Context) error {
	tokens := m.state.MonitoredTokens()
	if len(tokens) == 0 {
		return nil
	}

	extPositions, err := m.extended.GetPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to fetch extended positions: %w", err)
	}
	xyzPositions, err := m.tradexyz.GetPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to fetch tradexyz positions: %w", err)
	}

	for _, token := range tokens {
		extPos := findPosition(m.extended, token, extPositions)
		xyzPos := findPosition(m.tradexyz, token, xyzPositions)

		switch {
		case extPos == nil && xyzPos == nil:
			// Обе ноги отсутствуют: уже закрыто, экспозиции нет
			continue
		case extPos == nil || xyzPos == nil:
			return fmt.Errorf("unhedged exposure: %s present on only one exchange", token)
		case extPos.Side == xyzPos.Side:
			return fmt.Errorf("doubled exposure: %s has %s positions on both exchanges",
				token, extPos.Side)
		}

		if extPos.Size > 0 {
			imbalance := math.Abs(extPos.Size-xyzPos.Size) / extPos.Size
			if imbalance > domain.SizeImbalanceTolerance {
				m.log.Warn().Str("token", token).
					Float64("extended_size", extPos.Size).
					Float64("tradexyz_size", xyzPos.Size).
					Float64("imbalance", imbalance).
					Msg("leg size imbalance above tolerance")
			}
		}
	}
	return nil
}

// ExecuteEmergency отменяет все ордера и закрывает все позиции на обеих
// биржах. Каждая биржа обрабатывается независимо: сбой на одной не
// мешает зачистке другой. Повторный вызов безопасен.
func (m *Monitor) ExecuteEmergency(ctx context.Context, reason string) *domain.EmergencyAction {
	m.state.TriggerEmergency()

	action := &domain.EmergencyAction{
		Reason:          reason,
		TriggeredAt:     time.Now(),
		OrdersCancelled: make(map[domain.ExchangeName]int),
		PositionsClosed: make(map[domain.ExchangeName]int),
	}
	m.log.Error().Str("reason", reason).Msg("executing emergency liquidation")

	for _, ex := range []exchange.Exchange{m.extended, m.tradexyz} {
		name := ex.Name()

		cancelled, err := ex.CancelAllOrders(ctx, "")
		if err != nil {
			action.Errors = append(action.Errors,
				fmt.Sprintf("%s: cancel all orders: %v", name, err))
		} else {
			action.OrdersCancelled[name] = cancelled
		}

		positions, err := ex.GetPositions(ctx, "")
		if err != nil {
			action.Errors = append(action.Errors,
				fmt.Sprintf("%s: fetch positions: %v", name, err))
			continue
		}
		for _, pos := range positions {
			if _, err := ex.ClosePosition(ctx, pos.Symbol, 0); err != nil {
				action.Errors = append(action.Errors,
					fmt.Sprintf("%s: close %s: %v", name, pos.Symbol, err))
				continue
			}
			action.PositionsClosed[name]++
		}
	}

	action.Success = len(action.Errors) == 0
	m.log.Error().Bool("success", action.Success).
		Interface("orders_cancelled", action.OrdersCancelled).
		Interface("positions_closed", action.PositionsClosed).
		Strs("errors", action.Errors).
		Msg("emergency liquidation finished")

	m.sendNotification(formatEmergency(action))
	return action
}

// RunSafetyLoop периодически сверяет exposure и живость соединений,
// эскалируя в аварийную ликвидацию. Работает параллельно с циклами
// всю жизнь процесса; останавливается только отменой контекста.
func (m *Monitor) RunSafetyLoop(ctx context.Context) {
	ticker := time.NewTicker(domain.SafetyLoopInterval)
	defer ticker.Stop()

	livenessFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.state.EmergencyTriggered() {
			continue
		}

		if err := m.CheckExposure(ctx); err != nil {
			m.log.Error().Err(err).Msg("exposure check failed")
			m.ExecuteEmergency(ctx, fmt.Sprintf("exposure check failed: %v", err))
			continue
		}

		if !m.extended.IsConnected() || !m.tradexyz.IsConnected() {
			livenessFailures++
			m.log.Warn().Int("consecutive", livenessFailures).
				Bool("extended", m.extended.IsConnected()).
				Bool("tradexyz", m.tradexyz.IsConnected()).
				Msg("exchange connection unhealthy")
			if livenessFailures >= livenessFailureLimit && len(m.state.MonitoredTokens()) > 0 {
				m.ExecuteEmergency(ctx, "exchange connection lost while positions open")
			}
			continue
		}
		livenessFailures = 0
	}
}

// HandleSignals включает обработку сигналов завершения: первый сигнал
// запрашивает мягкую остановку (текущий цикл доводится до конца),
// второй при активном аварийном режиме завершает процесс немедленно.
func (m *Monitor) HandleSignals() {
	m.sigOnce.Do(func() {
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		go func() {
			sig := <-sigCh
			m.log.Warn().Str("signal", sig.String()).
				Msg("shutdown requested, finishing current cycle")
			m.state.RequestShutdown()

			sig = <-sigCh
			if m.state.EmergencyTriggered() {
				m.log.Error().Str("signal", sig.String()).
					Msg("second signal during emergency, forcing exit")
				os.Exit(1)
			}
			m.log.Error().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		}()
	})
}

func (m *Monitor) sendNotification(message string) {
	if m.notify == nil {
		return
	}
	m.notify(message)
}

// findPosition ищет позицию токена в списке позиций биржи
func findPosition(ex exchange.Exchange, token string, positions []domain.PositionInfo) *domain.PositionInfo {
	symbol, err := ex.Symbol(token)
	if err != nil {
		return nil
	}
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Size > 0 {
			return &positions[i]
		}
	}
	return nil
}

func formatEmergency(action *domain.EmergencyAction) string {
	status := "completed"
	if !action.Success {
		status = "completed with errors"
	}
	return fmt.Sprintf("EMERGENCY liquidation %s\nReason: %s\nOrders cancelled: %v\nPositions closed: %v",
		status, action.Reason, action.OrdersCancelled, action.PositionsClosed)
}
