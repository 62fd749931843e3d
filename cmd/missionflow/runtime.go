package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/conflict"
	"github.com/BaSui01/missionflow/agent/executor"
	"github.com/BaSui01/missionflow/agent/messaging"
	"github.com/BaSui01/missionflow/agent/mission"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/agent/plugin"
	"github.com/BaSui01/missionflow/agent/recovery"
	"github.com/BaSui01/missionflow/agent/workproduct"
	"github.com/BaSui01/missionflow/config"
	"github.com/BaSui01/missionflow/internal/database"
	"github.com/BaSui01/missionflow/internal/metrics"
)

// runtime 持有一个智能体进程的全部组件
type runtime struct {
	agentID   string
	missionID string
	logger    *zap.Logger

	store     persistence.DocumentStore
	sink      messaging.Sink
	metrics   *metrics.Collector
	executor  *executor.Executor
	resolver  *conflict.Resolver
	products  *workproduct.Manager
	directory mission.Directory

	// 关闭顺序与注册顺序相反
	closers []func() error
}

// newRuntime 按配置连接后端并装配执行器与冲突解决器
func newRuntime(ctx context.Context, cfg *config.Config, missionID string, collector *metrics.Collector, logger *zap.Logger) (_ *runtime, err error) {
	rt := &runtime{
		agentID:   cfg.Agent.ID,
		missionID: missionID,
		logger:    logger,
		metrics:   collector,
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		rt.closers = append(rt.closers, rdb.Close)
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	if rt.store, err = openStore(ctx, cfg, rdb, rt, logger); err != nil {
		return nil, err
	}
	if rt.sink, err = openSink(cfg, rdb, rt, logger); err != nil {
		return nil, err
	}

	if rdb != nil {
		dir := mission.NewRedisDirectory(rdb, cfg.Store.KeyPrefix)
		if err := dir.Register(ctx, rt.agentID, rt.agentID); err != nil {
			return nil, fmt.Errorf("failed to register agent location: %w", err)
		}
		rt.directory = dir
	} else {
		dir := mission.NewMemoryDirectory(nil)
		dir.Passthrough = true
		rt.directory = dir
	}

	var authority mission.Authority
	if cfg.Agent.AuthorityRecipient != "" {
		authority = mission.NewSinkAuthority(rt.sink, cfg.Agent.AuthorityRecipient, rt.agentID, logger)
	}

	client := plugin.NewHTTPClient(plugin.ClientConfig{
		BaseURL:   cfg.Plugin.BaseURL,
		Timeout:   cfg.Plugin.Timeout,
		RateLimit: cfg.Plugin.RateLimit,
		Burst:     cfg.Plugin.Burst,
	}, tokenSource(cfg.Plugin), logger)

	rec := recovery.New(recovery.Config{
		AgentID:                 rt.agentID,
		MissionID:               missionID,
		UnreachableBackoff:      cfg.Agent.UnreachableBackoff,
		QuestionOperation:       cfg.Agent.QuestionOperation,
		AutoAnswerConfirmations: cfg.Agent.AutoAnswerConfirmations,
	}, logger,
		recovery.WithAuditStore(rt.store),
		recovery.WithAuthValidator(client),
		recovery.WithMetrics(collector),
	)

	wpCfg := workproduct.DefaultConfig()
	wpCfg.AgentID = rt.agentID
	wpCfg.MissionID = missionID
	if cfg.Files.UploadThreshold > 0 {
		wpCfg.UploadThreshold = cfg.Files.UploadThreshold
	}
	if cfg.Files.UploadConcurrency > 0 {
		wpCfg.UploadConcurrency = cfg.Files.UploadConcurrency
	}
	wpOpts := []workproduct.Option{
		workproduct.WithSink(rt.sink),
		workproduct.WithMetrics(collector),
	}
	if cfg.Files.BasePath != "" {
		files, err := workproduct.NewLocalFileStore(cfg.Files.BasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		wpOpts = append(wpOpts, workproduct.WithFileStore(files))
	}
	rt.products = workproduct.NewManager(wpCfg, rt.store, logger, wpOpts...)

	execOpts := []executor.Option{
		executor.WithRecovery(rec),
		executor.WithWorkProducts(rt.products),
		executor.WithEventStore(rt.store),
		executor.WithSink(rt.sink),
		executor.WithMetrics(collector),
	}
	conflictOpts := []conflict.Option{
		conflict.WithDirectory(rt.directory),
		conflict.WithSink(rt.sink),
		conflict.WithMetrics(collector),
	}
	if authority != nil {
		execOpts = append(execOpts, executor.WithAuthority(authority))
		conflictOpts = append(conflictOpts, conflict.WithAuthority(authority))
	}

	rt.executor = executor.New(executor.Config{
		AgentID:         rt.agentID,
		MissionID:       missionID,
		StatusRecipient: cfg.Agent.StatusRecipient,
	}, client, logger, execOpts...)

	rt.resolver = conflict.NewResolver(conflict.Config{
		AgentID:   rt.agentID,
		MissionID: missionID,
		Timeout:   cfg.Agent.ConflictTimeout,
	}, rt.store, logger, conflictOpts...)

	return rt, nil
}

// openStore 选择文档存储。共享后端的生命周期由 runtime 管理。
func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, rt *runtime, logger *zap.Logger) (persistence.DocumentStore, error) {
	storeType := persistence.StoreType(cfg.Store.Type)
	backends := persistence.Backends{RedisKeyPrefix: cfg.Store.KeyPrefix}

	switch storeType {
	case persistence.StoreTypeRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis store requires redis.addr")
		}
		backends.Redis = rdb
	case persistence.StoreTypeSQL:
		pm, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pm.Close)
		backends.DB = pm.DB()
	case persistence.StoreTypeMongo:
		client, err := mongo.Connect(options.Client().
			ApplyURI(cfg.Mongo.URI).
			SetConnectTimeout(cfg.Mongo.ConnectTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to connect mongo: %w", err)
		}
		rt.closers = append(rt.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		backends.Mongo = client.Database(cfg.Mongo.Database)
	}

	store, err := persistence.NewDocumentStore(storeType, backends)
	if err != nil {
		return nil, err
	}
	if sqlStore, ok := store.(*persistence.SQLStore); ok {
		if err := sqlStore.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate documents table: %w", err)
		}
	}
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("document store unavailable: %w", err)
	}
	if storeType == persistence.StoreTypeMemory || storeType == "" {
		rt.closers = append(rt.closers, store.Close)
	}
	logger.Info("document store ready", zap.String("type", cfg.Store.Type))
	return store, nil
}

// openSink 选择通知投递方式
func openSink(cfg *config.Config, rdb *redis.Client, rt *runtime, logger *zap.Logger) (messaging.Sink, error) {
	switch cfg.Messaging.Type {
	case "", "hub":
		hub := messaging.NewHub(cfg.Messaging.HubBuffer, logger)
		rt.closers = append(rt.closers, hub.Close)
		return hub, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis messaging requires redis.addr")
		}
		return messaging.NewRedisSink(rdb, cfg.Messaging.ChannelPrefix, logger), nil
	case "websocket":
		header := http.Header{}
		header.Set("X-Agent-ID", cfg.Agent.ID)
		ws := messaging.NewWebSocketSink(cfg.Messaging.WebSocketURL, header, nil, logger)
		rt.closers = append(rt.closers, ws.Close)
		return ws, nil
	default:
		return nil, fmt.Errorf("unsupported messaging type: %s", cfg.Messaging.Type)
	}
}

// tokenSource 优先使用 token 文件，文件内容临近过期时重新读取
func tokenSource(cfg config.PluginConfig) plugin.TokenSource {
	if cfg.TokenFile == "" {
		return plugin.StaticToken(cfg.Token)
	}
	path := cfg.TokenFile
	return plugin.NewJWTTokenSource(func(context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}, 30*time.Second)
}

// Ping 检查文档存储
func (rt *runtime) Ping(ctx context.Context) error {
	return rt.store.Ping(ctx)
}

// Close 释放所有后端连接
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
