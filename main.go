package main

import (
	"context"
	"log" // standard log only for fatal errors before the logger is up
	"os"
	"os/signal"
	"syscall"

	"fxTradeBot/config"
	"fxTradeBot/internal/adapters/binanceclient"
	"fxTradeBot/internal/adapters/logger"
	"fxTradeBot/internal/adapters/pricefeed"
	"fxTradeBot/internal/adapters/sqlite"
	"fxTradeBot/internal/app"
	"fxTradeBot/internal/classifier"
	"fxTradeBot/internal/compliance"
	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/execution"
	"fxTradeBot/internal/ports"
	"fxTradeBot/internal/predictor"
	"fxTradeBot/internal/risk"
	"fxTradeBot/internal/sizing"
	"fxTradeBot/internal/timeexit"
	"fxTradeBot/internal/trailing"
)

func main() {
	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Logger
	appLogger := logger.New(logger.ParseLevel(cfg.LogLevel))
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Persistence
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	activity := repo.Activity()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})

	// 4. Broker error classifier
	errClassifier := classifier.New(classifier.Config{
		BufferSize: cfg.Risk.ErrorBufferSize,
		Logger:     appLogger,
		Activity:   activity,
	})

	// 5. Execution backends: simulated and paper always, live when configured.
	executors := map[domain.ExecutionMode]ports.TradeExecutor{
		domain.ModeSimulation: execution.NewSimExecutor(cfg.InitialBalance, appLogger),
		domain.ModePaper:      execution.NewPaperExecutor(cfg.InitialBalance, appLogger),
	}
	if cfg.Broker.APIKey != "" && cfg.Broker.SecretKey != "" {
		liveClient, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.Broker.APIKey,
			SecretKey:  cfg.Broker.SecretKey,
			UseTestnet: cfg.Broker.Testnet,
			Logger:     appLogger,
			Classifier: errClassifier,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize live broker client")
			log.Fatalf("FATAL: Failed to initialize live broker client: %v", err)
		}
		if err := liveClient.Connect(ctx); err != nil {
			appLogger.Warn(ctx, "Live broker connect failed; LIVE orders will be rejected until reconnect", map[string]interface{}{
				"error": err.Error(),
			})
		}
		executors[domain.ModeLive] = liveClient
	}

	initialMode := domain.ExecutionMode(cfg.Mode)
	if _, ok := executors[initialMode]; !ok {
		appLogger.Warn(ctx, "Configured mode has no backend, falling back to SIMULATION", map[string]interface{}{
			"mode": cfg.Mode,
		})
		initialMode = domain.ModeSimulation
	}

	// 6. Domain services
	compliancePolicy := compliance.New(cfg.Compliance)

	sizer, err := sizing.New(sizing.Config{
		Method:           sizing.Method(cfg.Sizing.Method),
		RiskPercent:      cfg.Sizing.RiskPercent,
		MinRiskPercent:   cfg.Sizing.MinRiskPercent,
		MaxRiskPercent:   cfg.Sizing.MaxRiskPercent,
		TargetVolPips:    cfg.Sizing.TargetVolPips,
		ATRPeriod:        cfg.Sizing.ATRPeriod,
		KellyFraction:    cfg.Sizing.KellyFraction,
		KellyLookback:    cfg.Sizing.KellyLookback,
		KellyMinSamples:  cfg.Sizing.KellyMinSamples,
		KellyDefaultRisk: cfg.Sizing.KellyDefaultRisk,
		TotalRiskBudget:  cfg.Sizing.TotalRiskBudget,
		MaxConcurrent:    cfg.Trading.MaxConcurrentTrades,
	}, appLogger, repo, compliancePolicy)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position sizer")
		log.Fatalf("FATAL: Failed to initialize position sizer: %v", err)
	}

	trail := trailing.New(trailing.Config{
		Algorithm:            trailing.Algorithm(cfg.Trailing.Algorithm),
		ATRPeriod:            cfg.Trailing.ATRPeriod,
		ATRMultiplier:        cfg.Trailing.ATRMultiplier,
		ChandelierLookback:   cfg.Trailing.ChandelierLookback,
		ChandelierMultiplier: cfg.Trailing.ChandelierMultiplier,
		ParabolicAFStep:      cfg.Trailing.ParabolicAFStep,
		ParabolicAFMax:       cfg.Trailing.ParabolicAFMax,
		FixedPips:            cfg.Trailing.FixedPips,
		ActivationR:          cfg.Trailing.ActivationR,
		MinStopDistancePips:  cfg.Trailing.MinStopDistancePips,
	}, appLogger)

	riskManager, err := risk.New(risk.Config{
		MaxDailyLossPercent: cfg.Risk.MaxDailyLossPercent,
		MaxDrawdownPercent:  cfg.Risk.MaxDrawdownPercent,
	}, appLogger, repo, activity)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	engine, err := execution.New(execution.Config{
		Pairs:                 cfg.Pairs,
		MaxConcurrentTrades:   cfg.Trading.MaxConcurrentTrades,
		MaxDailyTrades:        cfg.Trading.MaxDailyTrades,
		MinConfidence:         cfg.Trading.MinConfidence - cfg.Trading.ConfidenceDiscount,
		DailyLossLimitPercent: cfg.Risk.MaxDailyLossPercent,
		HoursStart:            cfg.Trading.HoursStart,
		HoursEnd:              cfg.Trading.HoursEnd,
		TrailingEnabled:       cfg.Trailing.Enabled,
		FixedTrailPips:        cfg.Trading.FixedTrailPips,
		TrailActivatePips:     cfg.Trading.TrailActivatePips,
	}, appLogger, repo, activity, sizer, trail, riskManager, executors, initialMode)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution engine")
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}

	// The kill switch liquidates every open position and downgrades
	// execution to the simulated backend so no further real orders can
	// leave the process.
	riskManager.RegisterKillSwitchHook(func(hookCtx context.Context, reason string) {
		if _, err := engine.CloseAllTrades(hookCtx, nil, domain.CloseReasonKillSwitch); err != nil {
			appLogger.Error(hookCtx, err, "Kill-switch liquidation failed")
		}
		if err := engine.SetMode(hookCtx, domain.ModeSimulation); err != nil {
			appLogger.Error(hookCtx, err, "Failed to force SIMULATION mode after kill switch")
		}
	})

	timeExit := timeexit.New(timeexit.Config{
		WeekendExitEnabled: cfg.TimeExit.WeekendExitEnabled,
		WeekendCutoffHour:  cfg.TimeExit.WeekendCutoffHour,
		SessionExitEnabled: cfg.TimeExit.SessionExitEnabled,
		SessionEndHour:     cfg.TimeExit.SessionEndHour,
		MaxHoldTime:        cfg.TimeExit.MaxHoldTime,
	})

	pred, err := predictor.New(cfg.Predictor, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize predictor")
		log.Fatalf("FATAL: Failed to initialize predictor: %v", err)
	}

	feed, err := pricefeed.New(cfg.Feed, cfg.Pairs, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize price feed")
		log.Fatalf("FATAL: Failed to initialize price feed: %v", err)
	}

	// 7. Bot
	bot, err := app.New(app.Deps{
		Config:      cfg,
		Logger:      appLogger,
		Engine:      engine,
		Risk:        riskManager,
		TimeExit:    timeExit,
		Compliance:  compliancePolicy,
		Feed:        feed,
		Predictor:   pred,
		Prices:      repo,
		Predictions: repo,
		Settings:    repo,
		Activity:    activity,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize bot")
		log.Fatalf("FATAL: Failed to initialize bot: %v", err)
	}

	// 8. Run until SIGINT/SIGTERM.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(runCtx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	if err := bot.Start(runCtx); err != nil {
		appLogger.Error(ctx, err, "Bot exited with error")
		log.Fatalf("FATAL: Bot exited with error: %v", err)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}
