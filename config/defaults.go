// =============================================================================
// 📦 MissionFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Agent:     DefaultAgentConfig(),
		Plugin:    DefaultPluginConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Messaging: DefaultMessagingConfig(),
		Files:     DefaultFilesConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultAgentConfig 返回默认智能体配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ID:                      "agent-1",
		MissionID:               "default",
		PlanFile:                "plan.yaml",
		MaxRetries:              3,
		UnreachableBackoff:      2 * time.Second,
		AutoAnswerConfirmations: false,
		QuestionOperation:       "ASK_USER_QUESTION",
		ProactiveSweepInterval:  30 * time.Second,
		ConflictSweepInterval:   10 * time.Second,
		ConflictTimeout:         5 * time.Minute,
		AuthorityRecipient:      "mission_authority",
	}
}

// DefaultPluginConfig 返回默认插件服务配置
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{
		BaseURL: "http://localhost:8090",
		Timeout: 60 * time.Second,
		Burst:   1,
	}
}

// DefaultStoreConfig 返回默认文档存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		KeyPrefix: "missionflow:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "missionflow",
		Password:        "",
		Name:            "missionflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "missionflow",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultMessagingConfig 返回默认通知配置
func DefaultMessagingConfig() MessagingConfig {
	return MessagingConfig{
		Type:          "hub",
		ChannelPrefix: "missionflow:events:",
		HubBuffer:     64,
	}
}

// DefaultFilesConfig 返回默认共享文件配置
func DefaultFilesConfig() FilesConfig {
	return FilesConfig{
		BasePath:          "./data/files",
		UploadThreshold:   2000,
		UploadConcurrency: 4,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "missionflow",
		SampleRate:   0.1,
	}
}
