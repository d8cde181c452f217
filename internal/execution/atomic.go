package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/exchange"
)

// IDSource выдаёт непредсказуемые external id для идемпотентной
// маркировки ордеров. Каждая попытка ордера получает свежий id.
type IDSource interface {
	ExternalID() (string, error)
}

// AtomicExecutor открывает и закрывает пару ног на двух биржах как
// единое действие: либо обе ноги исполнены, либо частичный успех
// компенсируется закрытием исполненной ноги.
type AtomicExecutor struct {
	extended exchange.Exchange
	tradexyz exchange.Exchange
	ids      IDSource
	guard    *SlippageGuard
	log      zerolog.Logger

	// Parallel: обе ноги параллельно под таймаутом (минимальный
	// разброс цен исполнения). Иначе последовательно с немедленным
	// откатом первой ноги (простой rollback).
	parallel     bool
	orderTimeout time.Duration
}

// NewAtomicExecutor создаёт executor
func NewAtomicExecutor(extended, tradexyz exchange.Exchange, ids IDSource, guard *SlippageGuard, parallel bool, orderTimeout time.Duration, log zerolog.Logger) *AtomicExecutor {
	return &AtomicExecutor{
		extended:     extended,
		tradexyz:     tradexyz,
		ids:          ids,
		guard:        guard,
		parallel:     parallel,
		orderTimeout: orderTimeout,
		log:          log.With().Str("component", "atomic_executor").Logger(),
	}
}

// OpenPositions открывает обе ноги. Success == true только если обе
// исполнены; при ровно одном успехе исполненная нога закрывается
// компенсирующим ордером. Ошибки ног никогда не пробрасываются наружу:
// каждая фиксируется в своём LegResult.
func (a *AtomicExecutor) OpenPositions(ctx context.Context, token string, size float64, extendedSide, tradexyzSide domain.Side, leverage int, expectedPrice float64) *domain.ExecutionResult {
	result := &domain.ExecutionResult{
		State:     domain.ExecPending,
		StartedAt: time.Now(),
	}
	defer func() { result.FinishedAt = time.Now() }()

	extSymbol, err := a.extended.Symbol(token)
	if err != nil {
		result.State = domain.ExecFailed
		result.Error = err.Error()
		return result
	}
	xyzSymbol, err := a.tradexyz.Symbol(token)
	if err != nil {
		result.State = domain.ExecFailed
		result.Error = err.Error()
		return result
	}

	a.setLeverageBoth(ctx, extSymbol, xyzSymbol, leverage)

	if a.parallel {
		a.openParallel(ctx, result, extSymbol, xyzSymbol, token, size, extendedSide, tradexyzSide, leverage, expectedPrice)
	} else {
		a.openSequential(ctx, result, extSymbol, xyzSymbol, size, extendedSide, tradexyzSide, leverage, expectedPrice)
	}

	extOK := result.ExtendedLeg != nil && result.ExtendedLeg.Success
	xyzOK := result.TradeXYZLeg != nil && result.TradeXYZLeg.Success

	switch {
	case extOK && xyzOK:
		result.State = domain.ExecComplete
		result.Success = true

	case extOK != xyzOK:
		// Ровно одна нога исполнена: компенсирующее закрытие
		a.rollbackLeg(ctx, result, extOK, extSymbol, xyzSymbol)

	default:
		result.State = domain.ExecFailed
		result.Error = "both legs failed"
		// Таймаут или неожиданная ошибка оставляют исход неизвестным:
		// ордер мог исполниться после дедлайна. Аварийный откат
		// идемпотентен и безопасен при любом фактическом состоянии.
		if legOutcomeUnknown(result.ExtendedLeg) || legOutcomeUnknown(result.TradeXYZLeg) {
			a.emergencyRollback(ctx, extSymbol, xyzSymbol)
		}
	}
	return result
}

func (a *AtomicExecutor) openParallel(ctx context.Context, result *domain.ExecutionResult, extSymbol, xyzSymbol, token string, size float64, extendedSide, tradexyzSide domain.Side, leverage int, expectedPrice float64) {
	result.State = domain.ExecOpeningFirst

	openCtx, cancel := context.WithTimeout(ctx, a.orderTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.ExtendedLeg = a.openLeg(openCtx, a.extended, extSymbol, extendedSide, size, leverage, expectedPrice)
	}()
	go func() {
		defer wg.Done()
		result.TradeXYZLeg = a.openLeg(openCtx, a.tradexyz, xyzSymbol, tradexyzSide, size, leverage, expectedPrice)
	}()
	wg.Wait()
	result.State = domain.ExecOpeningSecond
}

func (a *AtomicExecutor) openSequential(ctx context.Context, result *domain.ExecutionResult, extSymbol, xyzSymbol string, size float64, extendedSide, tradexyzSide domain.Side, leverage int, expectedPrice float64) {
	result.State = domain.ExecOpeningFirst
	result.ExtendedLeg = a.openLeg(ctx, a.extended, extSymbol, extendedSide, size, leverage, expectedPrice)

	if !result.ExtendedLeg.Success {
		// Вторая нога не размещалась: откатывать нечего
		result.TradeXYZLeg = &domain.LegResult{
			Exchange:  domain.ExchangeTradeXYZ,
			Symbol:    xyzSymbol,
			Side:      tradexyzSide,
			Size:      size,
			ErrorKind: domain.LegErrNotAttempted,
			Error:     "first leg failed, second not attempted",
		}
		return
	}

	result.State = domain.ExecOpeningSecond
	result.TradeXYZLeg = a.openLeg(ctx, a.tradexyz, xyzSymbol, tradexyzSide, size, leverage, expectedPrice)
}

// openLeg размещает одну ногу. Паника или ошибка любого рода
// превращается в неуспешный LegResult.
func (a *AtomicExecutor) openLeg(ctx context.Context, ex exchange.Exchange, symbol string, side domain.Side, size float64, leverage int, expectedPrice float64) (leg *domain.LegResult) {
	started := time.Now()
	leg = &domain.LegResult{
		Exchange: ex.Name(),
		Symbol:   symbol,
		Side:     side,
		Size:     size,
	}
	defer func() {
		leg.Duration = time.Since(started)
		if r := recover(); r != nil {
			leg.Success = false
			leg.ErrorKind = domain.LegErrUnexpected
			leg.Error = fmt.Sprintf("panic: %v", r)
			a.log.Error().Str("exchange", string(ex.Name())).
				Interface("panic", r).Msg("leg open panicked")
		}
	}()

	externalID, err := a.ids.ExternalID()
	if err != nil {
		leg.ErrorKind = domain.LegErrUnexpected
		leg.Error = fmt.Sprintf("failed to generate external id: %v", err)
		return leg
	}

	order, err := ex.PlaceOrder(ctx, &domain.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Quantity:    size,
		Type:        domain.OrderTypeMarket,
		Leverage:    leverage,
		TimeInForce: domain.TIFImmediateOrCancel,
		ExternalID:  externalID,
	})
	if err != nil {
		leg.ErrorKind = classifyLegError(ctx, err)
		leg.Error = err.Error()
		if order != nil {
			leg.OrderID = order.OrderID
		}
		a.log.Warn().Str("exchange", string(ex.Name())).
			Str("symbol", symbol).Str("side", string(side)).
			Err(err).Msg("leg open failed")
		return leg
	}

	leg.Success = true
	leg.OrderID = order.OrderID
	leg.FilledQty = order.FilledQty
	leg.AvgPrice = order.AvgPrice

	if expectedPrice > 0 && order.AvgPrice > 0 {
		if err := a.guard.CheckSlippage(order.AvgPrice, expectedPrice); err != nil {
			leg.Warnings = append(leg.Warnings, err.Error())
			a.log.Warn().Str("exchange", string(ex.Name())).
				Float64("avg_price", order.AvgPrice).
				Float64("expected", expectedPrice).
				Msg("fill slippage above threshold")
		}
	}
	return leg
}

// rollbackLeg закрывает единственную исполненную ногу. Неудача отката
// означает незахеджированную позицию и репортится отдельно.
func (a *AtomicExecutor) rollbackLeg(ctx context.Context, result *domain.ExecutionResult, extendedSucceeded bool, extSymbol, xyzSymbol string) {
	result.State = domain.ExecRollingBack
	result.RollbackPerformed = true

	ex := a.tradexyz
	symbol := xyzSymbol
	leg := result.TradeXYZLeg
	if extendedSucceeded {
		ex = a.extended
		symbol = extSymbol
		leg = result.ExtendedLeg
	}

	a.log.Warn().Str("exchange", string(ex.Name())).
		Str("symbol", symbol).Msg("rolling back single filled leg")

	// Отдельный контекст: откат должен пройти даже после таймаута открытия
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.orderTimeout)
	defer cancel()

	if _, err := ex.ClosePosition(rollbackCtx, symbol, leg.FilledQty); err != nil {
		result.State = domain.ExecFailed
		result.RollbackSuccess = false
		result.Error = fmt.Sprintf("rollback failed, unhedged exposure on %s: %v", ex.Name(), err)
		a.log.Error().Str("exchange", string(ex.Name())).
			Err(err).Msg("rollback close failed, unhedged exposure")
		return
	}

	result.State = domain.ExecRolledBack
	result.RollbackSuccess = true
	result.Error = "one leg failed, filled leg rolled back"
}

// emergencyRollback идемпотентно зачищает обе биржи: отмена всех
// ордеров, затем закрытие любых появившихся позиций. Безопасен
// независимо от того, какой код оставил состояние.
func (a *AtomicExecutor) emergencyRollback(ctx context.Context, extSymbol, xyzSymbol string) {
	cleanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.orderTimeout)
	defer cancel()

	venues := []struct {
		ex     exchange.Exchange
		symbol string
	}{
		{a.extended, extSymbol},
		{a.tradexyz, xyzSymbol},
	}
	for _, v := range venues {
		if _, err := v.ex.CancelAllOrders(cleanCtx, v.symbol); err != nil {
			a.log.Error().Str("exchange", string(v.ex.Name())).
				Err(err).Msg("emergency rollback: cancel all failed")
		}
		positions, err := v.ex.GetPositions(cleanCtx, v.symbol)
		if err != nil {
			a.log.Error().Str("exchange", string(v.ex.Name())).
				Err(err).Msg("emergency rollback: position fetch failed")
			continue
		}
		for _, pos := range positions {
			if _, err := v.ex.ClosePosition(cleanCtx, pos.Symbol, 0); err != nil {
				a.log.Error().Str("exchange", string(v.ex.Name())).
					Str("symbol", pos.Symbol).
					Err(err).Msg("emergency rollback: force close failed")
			}
		}
	}
}

// ClosePositions закрывает обе ноги параллельно и независимо,
// best-effort: отката при частичной неудаче нет (закрытие терминально),
// но исход каждой ноги фиксируется.
func (a *AtomicExecutor) ClosePositions(ctx context.Context, token string, extendedSize, tradexyzSize float64) *domain.ExecutionResult {
	result := &domain.ExecutionResult{
		State:     domain.ExecPending,
		StartedAt: time.Now(),
	}
	defer func() { result.FinishedAt = time.Now() }()

	extSymbol, err := a.extended.Symbol(token)
	if err != nil {
		result.State = domain.ExecFailed
		result.Error = err.Error()
		return result
	}
	xyzSymbol, err := a.tradexyz.Symbol(token)
	if err != nil {
		result.State = domain.ExecFailed
		result.Error = err.Error()
		return result
	}

	closeCtx, cancel := context.WithTimeout(ctx, a.orderTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.ExtendedLeg = a.closeLeg(closeCtx, a.extended, extSymbol, extendedSize)
	}()
	go func() {
		defer wg.Done()
		result.TradeXYZLeg = a.closeLeg(closeCtx, a.tradexyz, xyzSymbol, tradexyzSize)
	}()
	wg.Wait()

	result.Success = result.ExtendedLeg.Success && result.TradeXYZLeg.Success
	if result.Success {
		result.State = domain.ExecComplete
	} else {
		result.State = domain.ExecFailed
		result.Error = "one or both close legs failed"
	}
	return result
}

func (a *AtomicExecutor) closeLeg(ctx context.Context, ex exchange.Exchange, symbol string, size float64) (leg *domain.LegResult) {
	started := time.Now()
	leg = &domain.LegResult{
		Exchange: ex.Name(),
		Symbol:   symbol,
		Size:     size,
	}
	defer func() {
		leg.Duration = time.Since(started)
		if r := recover(); r != nil {
			leg.Success = false
			leg.ErrorKind = domain.LegErrUnexpected
			leg.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	order, err := ex.ClosePosition(ctx, symbol, size)
	if err != nil {
		leg.ErrorKind = classifyLegError(ctx, err)
		leg.Error = err.Error()
		a.log.Warn().Str("exchange", string(ex.Name())).
			Str("symbol", symbol).Err(err).Msg("leg close failed")
		return leg
	}

	leg.Success = true
	leg.OrderID = order.OrderID
	leg.Side = order.Side
	leg.FilledQty = order.FilledQty
	leg.AvgPrice = order.AvgPrice
	return leg
}

func (a *AtomicExecutor) setLeverageBoth(ctx context.Context, extSymbol, xyzSymbol string, leverage int) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		// Неудача не фатальна: проявится при размещении ордера
		if err := a.extended.SetLeverage(ctx, extSymbol, leverage); err != nil {
			a.log.Warn().Err(err).Msg("failed to set leverage on extended")
		}
	}()
	go func() {
		defer wg.Done()
		if err := a.tradexyz.SetLeverage(ctx, xyzSymbol, leverage); err != nil {
			a.log.Warn().Err(err).Msg("failed to set leverage on tradexyz")
		}
	}()
	wg.Wait()
}

func classifyLegError(ctx context.Context, err error) domain.LegErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.LegErrTimeout
	case errors.Is(err, domain.ErrExchangeAPI) || errors.Is(err, domain.ErrInsufficientBalance):
		return domain.LegErrRejected
	case errors.Is(err, domain.ErrTransport):
		return domain.LegErrTimeout
	default:
		return domain.LegErrUnexpected
	}
}

func legOutcomeUnknown(leg *domain.LegResult) bool {
	if leg == nil {
		return false
	}
	return leg.ErrorKind == domain.LegErrTimeout || leg.ErrorKind == domain.LegErrUnexpected
}
