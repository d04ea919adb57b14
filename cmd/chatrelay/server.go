package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/chatrelay/api"
	"github.com/BaSui01/chatrelay/api/handlers"
	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/cache"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/internal/server"
	"github.com/BaSui01/chatrelay/internal/session"
	"github.com/BaSui01/chatrelay/internal/telemetry"
	"github.com/BaSui01/chatrelay/internal/usage"
	"github.com/BaSui01/chatrelay/llm/budget"
	"github.com/BaSui01/chatrelay/llm/ollama"
	"github.com/BaSui01/chatrelay/llm/tokenizer"
	"github.com/BaSui01/chatrelay/relay"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组装 chatrelay 的全部组件并管理监听器
type Server struct {
	cfg              *config.Config
	logger           *zap.Logger
	metricsNamespace string

	otel      *telemetry.Providers
	redis     *cache.Manager
	usage     usage.Recorder
	store     *session.Store
	relay     *relay.Relay
	collector *metrics.Collector

	health *handlers.HealthHandler
	ws     *handlers.WebSocketHandler
	stream *handlers.StreamHandler

	managers []*server.Manager
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:              cfg,
		logger:           logger,
		metricsNamespace: "chatrelay",
	}
}

// Run 初始化组件、启动监听器并阻塞到 ctx 结束或某个监听器异常退出，随后优雅关闭.
func (s *Server) Run(ctx context.Context) error {
	if err := s.init(); err != nil {
		s.release(context.Background())
		return fmt.Errorf("failed to init server: %w", err)
	}
	if err := s.start(); err != nil {
		s.shutdown()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range s.managers {
		g.Go(func() error { return m.Wait(gctx) })
	}
	err := g.Wait()

	s.shutdown()
	return err
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func (s *Server) init() error {
	// 1. OpenTelemetry
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = providers

	instruments, err := telemetry.NewInstruments(otel.GetMeterProvider())
	if err != nil {
		s.logger.Warn("failed to create otel instruments", zap.Error(err))
	}

	// 2. Prometheus 指标
	s.collector = metrics.NewCollector(s.metricsNamespace, s.logger)

	// 3. 模型目录与预算
	if dir := s.cfg.Models.TokenizerDir; dir != "" {
		tokenizer.UseDirectory(dir)
	}
	catalog := tokenizer.NewCatalog(s.cfg.Models)
	estimator := budget.NewEstimator(catalog, s.cfg.Models.ResponseTokens)
	s.logger.Info("model catalog loaded", zap.Int("models", catalog.Models()))

	// 4. 会话存储
	backend, err := s.sessionBackend()
	if err != nil {
		return err
	}
	s.store = session.NewStore(backend, s.logger, session.WithObserver(s.collector))

	// 5. 用量台账
	s.usage, err = usage.Open(s.cfg.Usage, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open usage ledger: %w", err)
	}

	// 6. 编排器
	client := ollama.NewClient(s.cfg.Backend, s.logger)
	s.relay = relay.New(s.store, estimator, client, s.logger,
		relay.WithMetrics(s.collector),
		relay.WithInstruments(instruments),
		relay.WithUsage(s.usage),
	)

	// 7. Handlers
	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewBackendHealthCheck(client.Ping))
	if s.redis != nil {
		s.health.RegisterCheck(handlers.NewRedisHealthCheck(s.redis.Ping))
	}
	if p, ok := s.usage.(interface{ Ping(context.Context) error }); ok {
		s.health.RegisterCheck(handlers.NewDatabaseHealthCheck(p.Ping))
	}

	s.ws = handlers.NewWebSocketHandler(s.relay, s.store, handlers.WebSocketConfig{
		PingInterval:      s.cfg.Server.PingInterval,
		PingTimeout:       s.cfg.Server.PingTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		MaxMessageBytes:   s.cfg.Server.MaxMessageBytes,
		MaxPendingPrompts: s.cfg.Server.MaxPendingPrompts,
		AllowedOrigins:    s.cfg.Server.AllowedOrigins,
	}, s.logger)
	s.stream = handlers.NewStreamHandler(s.relay, s.store, s.cfg.Server.WriteTimeout, s.logger)

	s.logger.Info("handlers initialized",
		zap.String("mode", s.cfg.Server.Mode),
		zap.String("session_backend", s.cfg.Session.Backend),
		zap.String("usage_driver", s.cfg.Usage.Driver),
	)
	return nil
}

// sessionBackend 按配置选择会话后端
func (s *Server) sessionBackend() (session.Backend, error) {
	switch s.cfg.Session.Backend {
	case config.SessionBackendRedis:
		m, err := cache.NewManager(s.cfg.Redis, s.logger)
		if err != nil {
			return nil, err
		}
		s.redis = m
		return session.NewRedisBackend(m.Client(), m.Key, s.cfg.Session.TTL), nil
	default:
		return session.NewMemoryBackend(s.cfg.Session.Shards), nil
	}
}

// =============================================================================
// 🌐 路由
// =============================================================================

// operational 注册两个监听器共用的运维端点
func (s *Server) operational(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.health.HandleHealth)
	mux.HandleFunc("/healthz", s.health.HandleHealthz)
	mux.HandleFunc("/ready", s.health.HandleReady)
	mux.HandleFunc("/version", s.health.HandleVersion(api.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))
}

// wsRoutes 交互式监听器. 根路径同样接受升级，旧客户端直接连接 ws://host:port.
func (s *Server) wsRoutes() http.Handler {
	mux := http.NewServeMux()
	s.operational(mux)
	mux.Handle("/ws", s.ws)
	mux.Handle("/", s.ws)
	return s.middleware(mux)
}

// httpRoutes 纯文本流监听器
func (s *Server) httpRoutes() http.Handler {
	mux := http.NewServeMux()
	s.operational(mux)
	mux.Handle("/chat", s.stream)
	return s.middleware(mux)
}

func (s *Server) middleware(h http.Handler) http.Handler {
	return Chain(h,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.AllowedOrigins),
	)
}

// =============================================================================
// 🚀 启动
// =============================================================================

func (s *Server) start() error {
	base := server.Config{
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	if s.cfg.ServesWS() {
		cfg := base
		cfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.WSPort)
		m := server.NewManager("ws", s.wsRoutes(), cfg, s.logger)
		m.RegisterOnShutdown(s.ws.Drain)
		if err := s.startManager(m); err != nil {
			return err
		}
	}

	if s.cfg.ServesHTTP() {
		cfg := base
		cfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
		if err := s.startManager(server.NewManager("http", s.httpRoutes(), cfg, s.logger)); err != nil {
			return err
		}
	}

	if s.cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		cfg := base
		cfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
		cfg.WriteTimeout = s.cfg.Server.WriteTimeout
		if err := s.startManager(server.NewManager("metrics", mux, cfg, s.logger)); err != nil {
			return err
		}
	}

	s.logger.Info("all listeners started",
		zap.Int("ws_port", s.cfg.Server.WSPort),
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) startManager(m *server.Manager) error {
	if err := m.Start(); err != nil {
		return fmt.Errorf("failed to start %s listener: %w", m.Name(), err)
	}
	s.managers = append(s.managers, m)
	return nil
}

// =============================================================================
// 🛑 关闭
// =============================================================================

// shutdown 并行关闭监听器与 WebSocket 连接，然后释放后端资源
func (s *Server) shutdown() {
	s.logger.Info("starting graceful shutdown")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	for _, m := range s.managers {
		g.Go(func() error { return m.Shutdown(ctx) })
	}
	if s.ws != nil {
		g.Go(func() error { return s.ws.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("listener shutdown error", zap.Error(err))
	}

	// 监听器关闭后剩余资源给一个短暂的清理窗口
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	s.release(releaseCtx)

	s.logger.Info("graceful shutdown completed")
}

// release 关闭用量台账、Redis 与 OTel 导出器
func (s *Server) release(ctx context.Context) {
	if s.usage != nil {
		if err := s.usage.Close(); err != nil {
			s.logger.Warn("usage ledger close error", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close error", zap.Error(err))
		}
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}
}
