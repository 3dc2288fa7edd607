// =============================================================================
// 📦 ConstraintFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML / TOML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CONSTRAINTFLOW").
//	    Load()
//
// 配置优先级: 默认值 → 配置文件 → 环境变量
// 配置只在启动时读取一次，之后视为不可变。
// =============================================================================
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ConstraintFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" toml:"server" env:"SERVER"`

	// Model 推理后端配置
	Model ModelConfig `yaml:"model" toml:"model" env:"MODEL"`

	// Generation 生成默认值与上限
	Generation GenerationConfig `yaml:"generation" toml:"generation" env:"GENERATION"`

	// Cache 约束编译缓存
	Cache CacheConfig `yaml:"cache" toml:"cache" env:"CACHE"`

	// Idempotency 幂等重放
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency" env:"IDEMPOTENCY"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" toml:"redis" env:"REDIS"`

	// Database 溯源记录存储
	Database DatabaseConfig `yaml:"database" toml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" toml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" toml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" toml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（需覆盖最长一次生成）
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 同时处理的最大连接数（0 表示不限制）
	MaxConnections int `yaml:"max_connections" toml:"max_connections" env:"MAX_CONNECTIONS"`
	// 每个客户端 IP 的限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" toml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" toml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表，为空则不鉴权
	APIKeys []string `yaml:"api_keys" toml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 ?api_key= 传递
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" toml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT 鉴权（HMAC 密钥，为空则关闭）
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" toml:"jwt_issuer" env:"JWT_ISSUER"`
	// 证书与私钥路径，两者都设置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" toml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" toml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// ModelConfig 推理后端配置
type ModelConfig struct {
	// 模型名称，写入溯源记录
	Name string `yaml:"name" toml:"name" env:"NAME"`
	// 后端类型: uniform
	Backend string `yaml:"backend" toml:"backend" env:"BACKEND"`
	// 词表: char, cl100k_base, o200k_base
	Vocabulary string `yaml:"vocabulary" toml:"vocabulary" env:"VOCABULARY"`
	// tiktoken 词表截断（0 表示完整词表）
	VocabularyLimit int `yaml:"vocabulary_limit" toml:"vocabulary_limit" env:"VOCABULARY_LIMIT"`
	// GPU 描述，仅用于 /health 展示
	GPU string `yaml:"gpu" toml:"gpu" env:"GPU"`
	// 是否启动时预加载（否则首个请求时加载）
	Preload bool `yaml:"preload" toml:"preload" env:"PRELOAD"`
}

// GenerationConfig 生成参数默认值与上限
type GenerationConfig struct {
	DefaultMaxTokens   int     `yaml:"default_max_tokens" toml:"default_max_tokens" env:"DEFAULT_MAX_TOKENS"`
	MaxTokensLimit     int     `yaml:"max_tokens_limit" toml:"max_tokens_limit" env:"MAX_TOKENS_LIMIT"`
	DefaultTemperature float64 `yaml:"default_temperature" toml:"default_temperature" env:"DEFAULT_TEMPERATURE"`
	DefaultTopP        float64 `yaml:"default_top_p" toml:"default_top_p" env:"DEFAULT_TOP_P"`
	DefaultTopK        int     `yaml:"default_top_k" toml:"default_top_k" env:"DEFAULT_TOP_K"`
	// 单次生成超时（与调用方 ctx 取较早者）
	Timeout time.Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	// 并行执行生成的 worker 数与排队长度
	Workers   int `yaml:"workers" toml:"workers" env:"WORKERS"`
	QueueSize int `yaml:"queue_size" toml:"queue_size" env:"QUEUE_SIZE"`
	// worker 空闲多久后退出（缩容到零）
	WorkerIdleTimeout time.Duration `yaml:"worker_idle_timeout" toml:"worker_idle_timeout" env:"WORKER_IDLE_TIMEOUT"`
}

// CacheConfig 约束编译缓存配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	// 最大条目数，超出时淘汰最早插入的条目
	Limit int `yaml:"limit" toml:"limit" env:"LIMIT"`
	// 单个正则接受器的 DFA 状态表上限
	MaxDFAStates int `yaml:"max_dfa_states" toml:"max_dfa_states" env:"MAX_DFA_STATES"`
}

// IdempotencyConfig 幂等重放配置
type IdempotencyConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	// 存储后端: memory, redis
	Backend string `yaml:"backend" toml:"backend" env:"BACKEND"`
	// 结果保留时长
	TTL time.Duration `yaml:"ttl" toml:"ttl" env:"TTL"`
	// 内存后端最大条目数
	Capacity uint64 `yaml:"capacity" toml:"capacity" env:"CAPACITY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" toml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" toml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" toml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" toml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: memory, postgres, mysql, sqlite
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" toml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" toml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" toml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" toml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" toml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" toml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" toml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" toml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" toml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" toml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CONSTRAINTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → 配置文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 按扩展名解析 YAML 或 TOML
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(l.configPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse toml config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", filepath.Ext(l.configPath))
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 "30s" 解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	g := c.Generation
	if g.MaxTokensLimit <= 0 {
		errs = append(errs, "generation.max_tokens_limit must be positive")
	}
	if g.DefaultMaxTokens <= 0 || g.DefaultMaxTokens > g.MaxTokensLimit {
		errs = append(errs, "generation.default_max_tokens must be in (0, max_tokens_limit]")
	}
	if g.DefaultTemperature < 0 || g.DefaultTemperature > 2 {
		errs = append(errs, "generation.default_temperature must be between 0 and 2")
	}
	if g.DefaultTopP <= 0 || g.DefaultTopP > 1 {
		errs = append(errs, "generation.default_top_p must be in (0, 1]")
	}
	if g.DefaultTopK < 0 {
		errs = append(errs, "generation.default_top_k must not be negative")
	}
	if g.Timeout <= 0 {
		errs = append(errs, "generation.timeout must be positive")
	}
	if g.Workers <= 0 {
		errs = append(errs, "generation.workers must be positive")
	}

	if c.Cache.Enabled && c.Cache.Limit <= 0 {
		errs = append(errs, "cache.limit must be positive when the cache is enabled")
	}

	switch c.Model.Vocabulary {
	case "char", "cl100k_base", "o200k_base":
	default:
		errs = append(errs, fmt.Sprintf("unsupported model.vocabulary %q", c.Model.Vocabulary))
	}
	if c.Model.Backend != "uniform" {
		errs = append(errs, fmt.Sprintf("unsupported model.backend %q", c.Model.Backend))
	}

	switch c.Idempotency.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unsupported idempotency.backend %q", c.Idempotency.Backend))
	}

	switch c.Database.Driver {
	case "", "memory", "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database.driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
