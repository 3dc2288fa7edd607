// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "uniform", cfg.Model.Backend)
	assert.Equal(t, "char", cfg.Model.Vocabulary)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 1000, cfg.Cache.Limit)

	assert.Equal(t, 256, cfg.Generation.DefaultMaxTokens)
	assert.Equal(t, 2*time.Minute, cfg.Generation.Timeout)
	assert.Equal(t, 4, cfg.Generation.Workers)

	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.Equal(t, "memory", cfg.Database.Driver)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "uniform-char", cfg.Model.Name)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
cache:
  enabled: true
  limit: 2
generation:
  default_max_tokens: 64
  timeout: 10s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2, cfg.Cache.Limit)
	assert.Equal(t, 64, cfg.Generation.DefaultMaxTokens)
	assert.Equal(t, 10*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 4096, cfg.Generation.MaxTokensLimit)
}

func TestLoader_LoadFromTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	tomlContent := `
[server]
http_port = 7070
api_keys = ["k1", "k2"]

[model]
vocabulary = "cl100k_base"
vocabulary_limit = 5000

[database]
driver = "sqlite"
name = "provenance.db"
`
	require.NoError(t, os.WriteFile(configPath, []byte(tomlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, "cl100k_base", cfg.Model.Vocabulary)
	assert.Equal(t, 5000, cfg.Model.VocabularyLimit)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "provenance.db", cfg.Database.DSN())
}

func TestLoader_UnsupportedExtension(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("CONSTRAINTFLOW_SERVER_HTTP_PORT", "9000")
	t.Setenv("CONSTRAINTFLOW_CACHE_ENABLED", "false")
	t.Setenv("CONSTRAINTFLOW_GENERATION_TIMEOUT", "45s")
	t.Setenv("CONSTRAINTFLOW_GENERATION_DEFAULT_TEMPERATURE", "0")
	t.Setenv("CONSTRAINTFLOW_IDEMPOTENCY_CAPACITY", "12")
	t.Setenv("CONSTRAINTFLOW_SERVER_API_KEYS", "a, b ,c")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 0.0, cfg.Generation.DefaultTemperature)
	assert.Equal(t, uint64(12), cfg.Idempotency.Capacity)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0644))
	t.Setenv("CF_SERVER_HTTP_PORT", "8999")

	cfg, err := NewLoader().WithConfigPath(configPath).WithEnvPrefix("CF").Load()
	require.NoError(t, err)
	assert.Equal(t, 8999, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CONSTRAINTFLOW_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("CONSTRAINTFLOW_CACHE_LIMIT", "0")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.limit")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"max tokens", func(c *Config) { c.Generation.DefaultMaxTokens = 5000 }, "default_max_tokens"},
		{"temperature", func(c *Config) { c.Generation.DefaultTemperature = 2.5 }, "default_temperature"},
		{"top_p", func(c *Config) { c.Generation.DefaultTopP = 0 }, "default_top_p"},
		{"top_k", func(c *Config) { c.Generation.DefaultTopK = -1 }, "default_top_k"},
		{"timeout", func(c *Config) { c.Generation.Timeout = 0 }, "generation.timeout"},
		{"workers", func(c *Config) { c.Generation.Workers = 0 }, "generation.workers"},
		{"vocabulary", func(c *Config) { c.Model.Vocabulary = "bpe" }, "model.vocabulary"},
		{"backend", func(c *Config) { c.Model.Backend = "vllm" }, "model.backend"},
		{"idempotency", func(c *Config) { c.Idempotency.Backend = "etcd" }, "idempotency.backend"},
		{"database", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	disabled := DefaultConfig()
	disabled.Cache.Enabled = false
	disabled.Cache.Limit = 0
	assert.NoError(t, disabled.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())

	d.Driver = "mysql"
	d.Port = 3306
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", d.DSN())

	d.Driver = "memory"
	assert.Empty(t, d.DSN())
}

func TestMustLoad_PanicsOnInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: -1\n"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
