package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kirillm/delta-bot/internal/api"
	"github.com/kirillm/delta-bot/internal/config"
	"github.com/kirillm/delta-bot/internal/exchange"
	"github.com/kirillm/delta-bot/internal/execution"
	"github.com/kirillm/delta-bot/internal/orchestrator"
	"github.com/kirillm/delta-bot/internal/telegram"
	"github.com/kirillm/delta-bot/pkg/utils"
)

// Стартовый баланс виртуального счёта в dry-run режиме
const simBalanceUSD = 10000

var (
	flagLive     bool
	flagDryRun   bool
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "delta-bot",
		Short: "Delta-neutral funding rate arbitrage bot",
		Long: "Opens equal and opposite leveraged perpetual positions on two " +
			"exchanges to collect the funding rate differential while staying " +
			"market-neutral. Cycle parameters are drawn from OS entropy.",
	}
	root.PersistentFlags().BoolVar(&flagLive, "live", false, "enable live trading with real orders")
	root.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "force simulated trading")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	root.AddCommand(runCmd(), cycleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run trading cycles continuously until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := app.start(ctx); err != nil {
				return err
			}
			defer app.stop()

			app.orch.RunContinuous(ctx)
			return nil
		},
	}
}

func cycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single trading cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := app.start(ctx); err != nil {
				return err
			}
			defer app.stop()

			result := app.orch.RunCycle(ctx)
			if app.tgBot != nil {
				app.tgBot.NotifyCycle(result)
			}
			if !result.Success {
				return fmt.Errorf("cycle failed: %s", result.FailReason)
			}
			return nil
		},
	}
}

// app собранное приложение: оркестратор с watchdog, опциональные
// telegram-бот и HTTP API
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	orch   *orchestrator.Orchestrator
	tgBot  *telegram.Bot
	server *api.Server
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flagLive {
		cfg.Trading.Live = true
	}
	if flagDryRun {
		cfg.Trading.Live = false
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogPretty)

	simulated := !cfg.Trading.Live
	extended := exchange.NewExtendedClient(
		cfg.Extended.APIKey, cfg.Extended.APISecret, cfg.Extended.BaseURL,
		cfg.Extended.RequestsPerMinute, cfg.Trading.APITimeout, simulated, simBalanceUSD)
	tradexyz := exchange.NewTradeXYZClient(
		cfg.TradeXYZ.APIKey, cfg.TradeXYZ.APISecret, cfg.TradeXYZ.BaseURL,
		cfg.TradeXYZ.RequestsPerMinute, cfg.Trading.APITimeout, simulated, simBalanceUSD)

	a := &app{cfg: cfg, log: log}

	// Бот создаётся позже монитора, поэтому уведомления идут через
	// замыкание
	notify := func(message string) {
		if a.tgBot != nil {
			a.tgBot.Send(message)
		}
	}
	monitor := execution.NewMonitor(extended, tradexyz, execution.NewSafetyState(),
		cfg.Risk.MaxConsecutiveFailures, notify, log)

	orch, err := orchestrator.New(cfg, extended, tradexyz, monitor, log)
	if err != nil {
		return nil, err
	}
	a.orch = orch

	if cfg.Telegram.BotToken != "" {
		tgBot, err := telegram.NewBot(cfg.Telegram, orch, log)
		if err != nil {
			return nil, err
		}
		a.tgBot = tgBot
	}

	if cfg.API.Enabled {
		a.server = api.NewServer(cfg.API.Addr, orch, extended, tradexyz, log)
	}
	return a, nil
}

func (a *app) start(ctx context.Context) error {
	if a.cfg.Trading.Live {
		a.log.Warn().Msg("LIVE TRADING ENABLED: real orders will be placed")
	} else {
		a.log.Info().Msg("dry-run mode: real market data, simulated orders")
	}

	if err := a.orch.Start(ctx); err != nil {
		return err
	}
	if a.tgBot != nil {
		go a.tgBot.Run(ctx)
	}
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				a.log.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}
	return nil
}

func (a *app) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
	}
	a.orch.Stop(shutdownCtx)
}
