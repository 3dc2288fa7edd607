// ConstraintFlow 服务与命令行工具
//
//	constraintflow serve [--config config.yaml]
//	constraintflow compile [--file specs.json] [--max-dfa-states N]
//	constraintflow health [--addr http://localhost:8080]
//	constraintflow migrate <up|down|status|version|steps N> [--config config.yaml]
//	constraintflow version

// @title ConstraintFlow API
// @version 1.0.0
// @description Constrained text generation: JSON Schema, regex and grammar constraints
// @description compiled to token-level acceptors, with provenance for every generation.
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/constraintflow/client"
	"github.com/BaSui01/constraintflow/config"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// command 子命令，返回进程退出码
type command struct {
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"serve":   {"Start the HTTP server", runServe},
		"compile": {"Compile constraints locally and print hash and preview", compileCommand},
		"health":  {"Query a running server's /health", runHealth},
		"migrate": {"Manage provenance tables", runMigrate},
		"version": {"Print build information", runVersion},
	}
}

// commandOrder 帮助信息中的顺序
var commandOrder = []string{"serve", "compile", "health", "migrate", "version"}

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}
	return cmd.run(args[1:], stdout, stderr)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "ConstraintFlow - constrained generation service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: constraintflow <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
}

// compileCommand 从标准输入读取约束
func compileCommand(args []string, stdout, stderr io.Writer) int {
	return runCompile(args, os.Stdin, stdout, stderr)
}

// loadConfig 读取配置文件（可为空）与环境变量并校验
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(args []string, _, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (YAML or TOML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting constraintflow",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("build_time", BuildTime),
	)

	server := NewServer(cfg, logger)
	if err := server.Start(context.Background()); err != nil {
		logger.Error("server failed to start", zap.Error(err))
		return 1
	}
	// SIGINT/SIGTERM 由 HTTP manager 处理
	server.WaitForShutdown(context.Background())
	logger.Info("constraintflow stopped")
	return 0
}

// newLogger 按日志配置构建 zap logger；console 格式使用开发模式编码
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = !cfg.EnableCaller
	zc.DisableStacktrace = !cfg.EnableStacktrace
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	return zc.Build()
}

// =============================================================================
// 🏥 health / version
// =============================================================================

func runHealth(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "server base URL")
	apiKey := fs.String("api-key", os.Getenv("CONSTRAINTFLOW_API_KEY"), "API key")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = *addr
	cfg.APIKey = *apiKey
	cfg.Timeout = *timeout
	cfg.MaxRetries = 0
	c, err := client.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "health: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2**timeout)
	defer cancel()
	health, err := c.HealthCheck(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "health: %v\n", err)
		return 1
	}
	if health.Status != "healthy" {
		fmt.Fprintf(stderr, "health: server reports %s\n", health.Status)
		return 1
	}
	fmt.Fprintf(stdout, "OK model=%s backend=%s loaded=%t\n", health.Model, health.Backend, health.ModelLoaded)
	return 0
}

func runVersion(_ []string, stdout, _ io.Writer) int {
	fmt.Fprintf(stdout, "constraintflow %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
	return 0
}
