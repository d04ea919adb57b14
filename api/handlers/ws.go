package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/api"
	"github.com/BaSui01/chatrelay/internal/ctxkeys"
	"github.com/BaSui01/chatrelay/internal/session"
	"github.com/BaSui01/chatrelay/llm/ollama"
	"github.com/BaSui01/chatrelay/relay"
	"github.com/BaSui01/chatrelay/types"
)

// =============================================================================
// 🔌 WebSocket Handler（交互式传输）
// =============================================================================

// WebSocketConfig 交互式连接参数
type WebSocketConfig struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	// WriteTimeout 单条消息的发送超时，0 表示不限制
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	MaxPendingPrompts int
	// AllowedOrigins 为空时只接受同源请求
	AllowedOrigins []string
}

// DefaultWebSocketConfig 返回默认参数
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		PingInterval:      20 * time.Second,
		PingTimeout:       20 * time.Second,
		MaxMessageBytes:   1 << 20,
		MaxPendingPrompts: 8,
	}
}

var errDraining = errors.New("server draining")

const msgTooManyPrompts = "too many pending prompts"

// WebSocketHandler 处理 GET /ws. 每个连接拥有一个会话，提问按到达顺序逐个处理.
type WebSocketHandler struct {
	relay  *relay.Relay
	store  *session.Store
	cfg    WebSocketConfig
	logger *zap.Logger

	// baseCtx 在 Shutdown 超时后取消，中止仍在进行的对话
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	draining chan struct{}
	closing  bool
	active   sync.WaitGroup
	conns    int
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(r *relay.Relay, store *session.Store, cfg WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWebSocketConfig()
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.MaxPendingPrompts <= 0 {
		cfg.MaxPendingPrompts = def.MaxPendingPrompts
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &WebSocketHandler{
		relay:      r,
		store:      store,
		cfg:        cfg,
		logger:     logger.With(zap.String("handler", "ws")),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		draining:   make(chan struct{}),
	}
}

// ServeHTTP 升级连接并运行会话循环
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.acquire() {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrInternalError, "server is shutting down", h.logger)
		return
	}
	defer h.release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	logger := h.logger
	if rid, ok := ctxkeys.RequestID(r.Context()); ok {
		logger = logger.With(zap.String("request_id", rid))
	}
	logger.Info("websocket connected", zap.String("remote_addr", r.RemoteAddr))

	err = h.serveConn(r.Context(), conn, logger)
	logger.Info("websocket disconnected", zap.NamedError("reason", err))
}

// serveConn 在一个会话作用域内顺序处理提问，返回时会话已销毁
func (h *WebSocketHandler) serveConn(parent context.Context, conn *websocket.Conn, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(h.baseCtx, cancel)
	defer stop()

	prompts := make(chan []byte, h.cfg.MaxPendingPrompts)
	var overflow atomic.Int64
	go h.readLoop(ctx, cancel, conn, prompts, &overflow, logger)
	go h.pingLoop(ctx, cancel, conn, logger)

	send := relay.SenderFunc(func(ctx context.Context, unit string) error {
		if h.cfg.WriteTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.cfg.WriteTimeout)
			defer cancel()
		}
		return conn.Write(ctx, websocket.MessageText, []byte(unit))
	})

	err := h.store.Scoped(ctx, func(sessionID string) error {
		sessLogger := logger.With(zap.String("session_id", sessionID))
		for {
			select {
			case <-h.draining:
				return errDraining
			default:
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-h.draining:
				return errDraining
			case data, ok := <-prompts:
				if !ok {
					return nil
				}
				if err := h.handlePrompt(ctx, sessionID, data, send, sessLogger); err != nil {
					return err
				}
				for n := overflow.Swap(0); n > 0; n-- {
					if err := rejectPrompt(ctx, send, msgTooManyPrompts); err != nil {
						return err
					}
				}
			}
		}
	})

	// 在取消 ctx 之前关闭，读取方仍在运行才能完成关闭握手
	switch {
	case errors.Is(err, errDraining):
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case err == nil:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	default:
		_ = conn.CloseNow()
	}
	return err
}

// handlePrompt 处理一条客户端消息. 返回错误表示连接不可继续使用.
func (h *WebSocketHandler) handlePrompt(ctx context.Context, sessionID string, data []byte, send relay.Sender, logger *zap.Logger) error {
	var req api.PromptRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Debug("invalid prompt message", zap.Error(err))
		return rejectPrompt(ctx, send, "invalid JSON message")
	}
	if verr := req.Validate(); verr != nil {
		return rejectPrompt(ctx, send, verr.Message)
	}

	err := h.relay.Run(ctx, relay.Exchange{
		SessionID: sessionID,
		Model:     req.Model,
		Prompt:    req.Prompt,
		Think:     req.Thinking,
		Transport: relay.TransportInteractive,
	}, send)
	if types.IsCode(err, types.ErrUpstreamConnectionLost) {
		// 后端故障只影响本轮，客户端已收到错误帧
		return nil
	}
	return err
}

// rejectPrompt 以错误帧加结束标记回应无效消息
func rejectPrompt(ctx context.Context, send relay.Sender, text string) error {
	units := relay.Frame(ollama.Event{Kind: ollama.EventError, Text: text}, relay.TransportInteractive)
	units = append(units, relay.Completion(relay.TransportInteractive)...)
	for _, unit := range units {
		if err := send.Send(ctx, unit); err != nil {
			return types.NewError(types.ErrTransportSend, "send to client").WithCause(err)
		}
	}
	return nil
}

// readLoop 读取客户端消息放入有界队列. 读取从不阻塞在队列上，pong 只有在 Read 中才会被消费.
// 队列满时丢弃该提问并计入 overflow，当前一轮结束后逐条回复错误帧.
// 读取失败说明客户端已断开，取消整个连接.
func (h *WebSocketHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, prompts chan<- []byte, overflow *atomic.Int64, logger *zap.Logger) {
	defer close(prompts)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					logger.Debug("client closed connection", zap.Int("status", int(status)))
				} else {
					logger.Info("websocket read failed", zap.Error(err))
				}
			}
			cancel()
			return
		}
		if typ != websocket.MessageText {
			logger.Debug("ignoring non-text message", zap.Stringer("type", typ))
			continue
		}

		select {
		case prompts <- data:
		case <-ctx.Done():
			return
		default:
			overflow.Add(1)
			logger.Warn("prompt queue full, rejecting prompt", zap.Int("max_pending", cap(prompts)))
		}
	}
}

// pingLoop 定时 ping，超时视为连接失效
func (h *WebSocketHandler) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, logger *zap.Logger) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, h.cfg.PingTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Info("websocket ping failed, closing", zap.Error(err))
				}
				cancel()
				return
			}
		}
	}
}

// =============================================================================
// 🛑 关闭
// =============================================================================

func (h *WebSocketHandler) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.active.Add(1)
	h.conns++
	return true
}

func (h *WebSocketHandler) release() {
	h.mu.Lock()
	h.conns--
	h.mu.Unlock()
	h.active.Done()
}

// Connections 返回当前连接数
func (h *WebSocketHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}

// Drain 停止接受新连接与新提问，进行中的对话继续. 可重复调用.
func (h *WebSocketHandler) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closing {
		h.closing = true
		close(h.draining)
	}
}

// Shutdown 排空连接. ctx 到期后取消剩余对话并等待连接退出.
func (h *WebSocketHandler) Shutdown(ctx context.Context) error {
	h.Drain()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.baseCancel()
		return nil
	case <-ctx.Done():
		h.logger.Warn("websocket drain timed out, cancelling exchanges", zap.Int("connections", h.Connections()))
		h.baseCancel()
		<-done
		return ctx.Err()
	}
}
