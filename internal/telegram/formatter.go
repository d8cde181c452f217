package telegram

import (
	"fmt"
	"strings"

	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/orchestrator"
	"github.com/kirillm/delta-bot/pkg/utils"
)

// FormatStatus собирает текстовый отчёт о состоянии бота
func FormatStatus(s orchestrator.Status) string {
	var sb strings.Builder

	sb.WriteString("Bot status\n")
	fmt.Fprintf(&sb, "State: %s\n", s.State)
	fmt.Fprintf(&sb, "Running: %v\n", s.Running)
	fmt.Fprintf(&sb, "Cycles run: %d\n", s.CyclesRun)
	fmt.Fprintf(&sb, "Consecutive failures: %d\n", s.ConsecutiveFailures)

	if s.EmergencyTriggered {
		sb.WriteString("EMERGENCY ACTIVE: trading halted\n")
	}
	if s.ShutdownRequested {
		sb.WriteString("Shutdown requested\n")
	}

	if s.LastResult != nil {
		sb.WriteString("\nLast cycle:\n")
		sb.WriteString(FormatCycle(s.LastResult))
	}
	return sb.String()
}

// FormatCycle собирает отчёт о завершённом цикле
func FormatCycle(r *domain.CycleResult) string {
	var sb strings.Builder

	outcome := "FAILED"
	if r.Success {
		outcome = "OK"
	}
	fmt.Fprintf(&sb, "Cycle %s: %s\n", shortID(r.CycleID), outcome)

	if r.Params != nil {
		fmt.Fprintf(&sb, "Token: %s, leverage: %dx, equity: %.1f%%\n",
			r.Params.Token, r.Params.Leverage, r.Params.EquityUsage*100)
	}
	if r.Sizing != nil && r.Sizing.FitsConstraints {
		fmt.Fprintf(&sb, "Size: %.4f (notional $%.2f)\n",
			r.Sizing.PositionSize, r.Sizing.NotionalValue)
	}
	if r.ExtendedSide != "" {
		fmt.Fprintf(&sb, "Sides: extended %s / tradexyz %s\n",
			r.ExtendedSide, r.TradeXYZSide)
	}
	if r.HeldFor > 0 {
		fmt.Fprintf(&sb, "Held: %s\n", utils.FormatDuration(r.HeldFor))
	}
	if r.PnL != nil {
		fmt.Fprintf(&sb, "Net PnL: $%.2f (funding $%.2f, fees $%.2f)\n",
			r.PnL.NetPnL, r.PnL.FundingEarned, r.PnL.FeesEstimated)
	}
	if !r.Success && r.FailReason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", r.FailReason)
	}
	return sb.String()
}

// shortID обрезает UUID до первого блока для читаемости
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
