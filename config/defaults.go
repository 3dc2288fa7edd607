// =============================================================================
// 📦 ConstraintFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Model:       DefaultModelConfig(),
		Generation:  DefaultGenerationConfig(),
		Cache:       DefaultCacheConfig(),
		Idempotency: DefaultIdempotencyConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  64,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultModelConfig 返回默认推理后端配置
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Name:       "uniform-char",
		Backend:    "uniform",
		Vocabulary: "char",
		GPU:        "none",
	}
}

// DefaultGenerationConfig 返回默认生成参数
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		DefaultMaxTokens:   256,
		MaxTokensLimit:     4096,
		DefaultTemperature: 0.7,
		DefaultTopP:        0.95,
		DefaultTopK:        0,
		Timeout:            2 * time.Minute,
		Workers:            4,
		QueueSize:          64,
		WorkerIdleTimeout:  5 * time.Minute,
	}
}

// DefaultCacheConfig 返回默认编译缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		Limit:        1000,
		MaxDFAStates: 10000,
	}
}

// DefaultIdempotencyConfig 返回默认幂等配置
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Enabled:  true,
		Backend:  "memory",
		TTL:      time.Hour,
		Capacity: 10000,
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

// DefaultDatabaseConfig 返回默认数据库配置（内存溯源存储）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "memory",
		Host:            "localhost",
		Port:            5432,
		User:            "constraintflow",
		Name:            "constraintflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
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
		ServiceName:  "constraintflow",
		SampleRate:   0.1,
	}
}
