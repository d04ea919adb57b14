// =============================================================================
// chatrelay 主入口
// =============================================================================
// 流式聊天网关：WebSocket（交互式）与分块 HTTP（纯文本）两种传输，
// 后端为 Ollama 风格的 NDJSON 流式聊天接口.
//
// 使用方法:
//
//	chatrelay serve                        # 启动服务
//	chatrelay serve --config config.yaml   # 指定配置文件
//	chatrelay usage --since 24h            # 查看用量汇总
//	chatrelay version                      # 显示版本信息
//	chatrelay health                       # 健康检查
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/tlsutil"
	"github.com/BaSui01/chatrelay/internal/usage"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "usage":
		runUsage(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting chatrelay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewServer(cfg, logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("chatrelay exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("chatrelay stopped")
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 📊 usage 命令
// =============================================================================

func runUsage(args []string) {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	since := fs.Duration("since", 24*time.Hour, "Summarize exchanges newer than this")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := printUsageSummary(os.Stdout, cfg.Usage, *since); err != nil {
		fmt.Fprintf(os.Stderr, "Usage summary failed: %v\n", err)
		os.Exit(1)
	}
}

// printUsageSummary 按模型输出 since 时间窗内的用量
func printUsageSummary(w io.Writer, cfg config.UsageConfig, since time.Duration) error {
	if cfg.Driver == "" {
		return errors.New("usage ledger disabled (usage.driver is empty)")
	}

	rec, err := usage.Open(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = rec.Close() }()

	summarizer, ok := rec.(interface {
		Summarize(context.Context, time.Time) ([]usage.Summary, error)
	})
	if !ok {
		return fmt.Errorf("driver %q does not support summaries", cfg.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := summarizer.Summarize(ctx, time.Now().UTC().Add(-since))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tEXCHANGES\tPROMPT TOKENS\tANSWER CHARS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", r.Model, r.Exchanges, r.PromptTokens, r.AnswerChars)
	}
	return tw.Flush()
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9765", "Server address")
	_ = fs.Parse(args)

	if err := checkHealth(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func checkHealth(addr string) error {
	resp, err := tlsutil.SecureHTTPClient(5 * time.Second).Get(addr + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("chatrelay %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`chatrelay - streaming chat gateway

Usage:
  chatrelay <command> [options]

Commands:
  serve     Start the WebSocket and HTTP stream listeners
  usage     Summarize recorded exchanges per model
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'usage':
  --config <path>   Path to configuration file (YAML)
  --since <dur>     Time window, e.g. 1h, 24h (default 24h)

Examples:
  chatrelay serve
  chatrelay serve --config /etc/chatrelay/config.yaml
  chatrelay usage --config /etc/chatrelay/config.yaml --since 168h
  chatrelay health --addr http://localhost:9765
  chatrelay version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
