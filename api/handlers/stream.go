package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/api"
	"github.com/BaSui01/chatrelay/internal/session"
	"github.com/BaSui01/chatrelay/relay"
	"github.com/BaSui01/chatrelay/types"
)

// =============================================================================
// 📜 Plain-stream Handler（POST /chat）
// =============================================================================

// StreamHandler 一次请求一轮对话，回答以分块纯文本返回.
// 会话只在本次请求期间存在.
type StreamHandler struct {
	relay        *relay.Relay
	store        *session.Store
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewStreamHandler 创建 plain-stream 处理器. writeTimeout 作用于每个分块，0 表示不限制.
func NewStreamHandler(r *relay.Relay, store *session.Store, writeTimeout time.Duration, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		relay:        r,
		store:        store,
		writeTimeout: writeTimeout,
		logger:       logger.With(zap.String("handler", "stream")),
	}
}

// ServeHTTP 处理 POST /chat
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	// Content-Type 为空时按 JSON 处理
	if r.Header.Get("Content-Type") != "" && !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.PromptRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if verr := req.Validate(); verr != nil {
		WriteError(w, verr, h.logger)
		return
	}

	rc := http.NewResponseController(w)
	header := w.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := relay.SenderFunc(func(_ context.Context, unit string) error {
		if h.writeTimeout > 0 {
			if err := rc.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if _, err := io.WriteString(w, unit); err != nil {
			return err
		}
		return rc.Flush()
	})

	ctx := r.Context()
	err := h.store.Scoped(ctx, func(sessionID string) error {
		return h.relay.Run(ctx, relay.Exchange{
			SessionID: sessionID,
			Model:     req.Model,
			Prompt:    req.Prompt,
			Think:     req.Thinking,
			Transport: relay.TransportPlain,
		}, send)
	})
	if err != nil {
		// 状态码已写出，错误已在流中告知客户端
		h.logger.Debug("plain-stream exchange ended with error",
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err))
	}
}
