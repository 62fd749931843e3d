package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/config"
	"github.com/BaSui01/missionflow/internal/metrics"
	"github.com/BaSui01/missionflow/internal/server"
	"github.com/BaSui01/missionflow/internal/telemetry"
)

// =============================================================================
// 🖥️ run 命令
// =============================================================================

func runAgent(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	planPath := fs.String("plan", "", "Step plan file (overrides agent.plan_file)")
	exitWhenDone := fs.Bool("exit", false, "Stop once the plan has no pending steps")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *planPath != "" {
		cfg.Agent.PlanFile = *planPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return 1
	}

	plan, err := loadPlan(cfg.Agent.PlanFile, cfg.Agent.MaxRetries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid plan %s: %v\n", cfg.Agent.PlanFile, err)
		return 1
	}
	// 计划文件声明的任务优先
	missionID := cfg.Agent.MissionID
	if plan.MissionID != "" {
		missionID = plan.MissionID
	}

	logger, level := initLogger(cfg.Log)
	defer logger.Sync()
	logger = logger.With(zap.String("agent_id", cfg.Agent.ID), zap.String("mission_id", missionID))

	logger.Info("starting MissionFlow agent",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.Int("steps", len(plan.Steps)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.Identity{AgentID: cfg.Agent.ID, MissionID: missionID}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	collector := metrics.NewCollector("missionflow", logger)
	rt, err := newRuntime(ctx, cfg, missionID, collector, logger)
	if err != nil {
		logger.Error("failed to initialize agent", zap.Error(err))
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to release backends", zap.Error(err))
		}
	}()

	runner := newRunner(plan.Steps, rt.executor, rt.resolver, loopConfig{
		ProactiveInterval: cfg.Agent.ProactiveSweepInterval,
		ConflictInterval:  cfg.Agent.ConflictSweepInterval,
		ExitWhenDone:      *exitWhenDone,
	}, logger)

	api := &apiServer{
		agentID:   cfg.Agent.ID,
		loop:      runner,
		conflicts: rt.resolver,
		products:  rt.products,
		health:    rt.Ping,
		metrics:   collector,
		logger:    logger,
	}
	httpServer := server.NewManager(api.Handler(ctx, cfg.Server), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
	}, logger)
	if err := httpServer.Start(); err != nil {
		logger.Error("failed to start HTTP server", zap.Error(err))
		return 1
	}
	defer httpServer.Shutdown(context.Background())

	// 配置热更新：日志级别与扫描间隔
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, cfg, config.WithWatcherLogger(logger))
		if err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		} else {
			watcher.OnChange(func(hs config.HotSettings) {
				level.SetLevel(parseLevel(hs.LogLevel))
				runner.UpdateSettings(hs)
			})
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("config watcher disabled", zap.Error(err))
			}
			defer watcher.Stop()
		}
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- runner.Run(ctx) }()

	select {
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("control loop stopped", zap.Error(err))
			return 1
		}
		logger.Info("MissionFlow agent stopped")
	case err := <-httpServer.Errors():
		logger.Error("HTTP server exited unexpectedly", zap.Error(err))
		stop()
		<-loopDone
		return 1
	}
	return 0
}
