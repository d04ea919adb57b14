package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/internal/ctxkeys"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/internal/session"
	"github.com/BaSui01/chatrelay/internal/telemetry"
	"github.com/BaSui01/chatrelay/internal/usage"
	"github.com/BaSui01/chatrelay/llm/budget"
	"github.com/BaSui01/chatrelay/llm/ollama"
	"github.com/BaSui01/chatrelay/types"
)

// 一轮对话的结果，用作指标标签与台账字段
const (
	OutcomeCompleted     = "completed"
	OutcomeConfiguration = "configuration_error"
	OutcomeUpstreamLost  = "upstream_lost"
	OutcomeTransport     = "transport_failed"
	OutcomeInternal      = "internal_error"
)

// Sender 把一个单元发送给客户端. 返回错误表示客户端已不可达.
type Sender interface {
	Send(ctx context.Context, unit string) error
}

// SenderFunc 函数适配器
type SenderFunc func(ctx context.Context, unit string) error

// Send 实现 Sender
func (f SenderFunc) Send(ctx context.Context, unit string) error { return f(ctx, unit) }

// Backend 打开后端响应流，由 *ollama.Client 实现
type Backend interface {
	Stream(ctx context.Context, req *ollama.ChatRequest) (*ollama.Stream, error)
}

// Exchange 一轮对话的输入
type Exchange struct {
	SessionID string
	Model     string
	Prompt    string
	Think     bool
	Transport Transport
}

// Relay 对话编排器，可被多个连接并发使用
type Relay struct {
	store       *session.Store
	estimator   *budget.Estimator
	backend     Backend
	metrics     *metrics.Collector
	instruments *telemetry.Instruments
	usage       usage.Recorder
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Option 配置 Relay
type Option func(*Relay)

// WithMetrics 设置 Prometheus 指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Relay) { r.metrics = c }
}

// WithInstruments 设置 OTel 指标仪表
func WithInstruments(i *telemetry.Instruments) Option {
	return func(r *Relay) { r.instruments = i }
}

// WithUsage 设置用量记录器
func WithUsage(u usage.Recorder) Option {
	return func(r *Relay) { r.usage = u }
}

// WithTracer 设置 tracer，默认使用全局 provider
func WithTracer(t trace.Tracer) Option {
	return func(r *Relay) { r.tracer = t }
}

// New 创建 Relay
func New(store *session.Store, estimator *budget.Estimator, backend Backend, logger *zap.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		store:     store,
		estimator: estimator,
		backend:   backend,
		usage:     usage.NopRecorder{},
		logger:    logger.With(zap.String("component", "relay")),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = telemetry.Tracer()
	}
	return r
}

// exchangeState 单轮对话的可变状态
type exchangeState struct {
	ex        Exchange
	send      Sender
	logger    *zap.Logger
	span      trace.Span
	start     time.Time
	info      budget.Info
	answer    strings.Builder
	firstSeen bool
}

// Run 处理一轮对话. 配置错误已作为错误帧发给客户端时返回 nil；
// 后端连接丢失返回 UPSTREAM_CONNECTION_LOST；发送失败返回 TRANSPORT_SEND_FAILED.
func (r *Relay) Run(ctx context.Context, ex Exchange, send Sender) error {
	ctx = ctxkeys.WithSessionID(ctx, ex.SessionID)
	ctx = ctxkeys.WithModel(ctx, ex.Model)

	ctx, span := r.tracer.Start(ctx, "relay.exchange", trace.WithAttributes(
		attribute.String("chatrelay.session_id", ex.SessionID),
		attribute.String("chatrelay.model", ex.Model),
		attribute.String("chatrelay.transport", ex.Transport.String()),
		attribute.Bool("chatrelay.think", ex.Think),
	))
	defer span.End()

	logger := r.logger.With(
		zap.String("session_id", ex.SessionID),
		zap.String("model", ex.Model),
		zap.String("transport", ex.Transport.String()),
	)
	if rid, ok := ctxkeys.RequestID(ctx); ok {
		logger = logger.With(zap.String("request_id", rid))
	}

	st := &exchangeState{ex: ex, send: send, logger: logger, span: span, start: time.Now()}
	outcome, err := r.run(ctx, st)
	r.finish(ctx, st, outcome, err)
	return err
}

func (r *Relay) run(ctx context.Context, st *exchangeState) (string, error) {
	ex := st.ex

	snapshot, err := r.store.Get(ctx, ex.SessionID)
	if err != nil {
		return OutcomeInternal, err
	}
	user := types.NewUserMessage(ex.Prompt)
	if err := r.store.Append(ctx, ex.SessionID, user); err != nil {
		return OutcomeInternal, err
	}
	history := append(types.CloneHistory(snapshot), user)

	info, err := r.estimator.Estimate(history, ex.Model)
	if err != nil {
		r.rollback(ctx, st, snapshot)
		if types.IsConfiguration(err) {
			st.logger.Warn("exchange rejected", zap.Error(err))
			if sendErr := r.sendFailure(ctx, st, clientMessage(err)); sendErr != nil {
				return OutcomeTransport, sendErr
			}
			return OutcomeConfiguration, nil
		}
		return OutcomeInternal, err
	}
	st.info = info
	st.span.SetAttributes(
		attribute.Int("chatrelay.prompt_tokens", info.PromptTokens),
		attribute.Int("chatrelay.request_context", info.RequestContext),
	)

	trimmed := budget.Trim(history, info.PromptTokens*budget.CharsPerToken)
	if len(trimmed) == 0 {
		st.logger.Warn("newest message exceeds the character budget, history is empty",
			zap.Int("prompt_chars", utf8.RuneCountInString(ex.Prompt)),
			zap.Int("max_chars", info.PromptTokens*budget.CharsPerToken))
	}
	if err := r.store.Replace(ctx, ex.SessionID, trimmed); err != nil {
		r.rollback(ctx, st, snapshot)
		return OutcomeInternal, err
	}
	r.metrics.RecordBudget(ex.Model, info.PromptTokens, info.RequestContext, len(history)-len(trimmed))

	st.logger.Debug("budget computed",
		zap.Int("prompt_tokens", info.PromptTokens),
		zap.Int("request_context", info.RequestContext),
		zap.Int("messages", len(trimmed)),
		zap.Int("trimmed", len(history)-len(trimmed)))

	if ex.Transport == TransportInteractive {
		if err := r.emit(ctx, st, ollama.ContextEvent(ollama.NoticeAskingModel)); err != nil {
			return OutcomeTransport, err
		}
	}

	// 发送失败时通过 cancel 中止后端请求
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := ollama.NewChatRequest(ex.Model, trimmed, ex.Think, info.RequestContext)
	stream, err := r.backend.Stream(streamCtx, req)
	if err != nil {
		return r.upstreamLost(ctx, st, snapshot, err)
	}
	defer stream.Close()

	if ex.Transport == TransportInteractive {
		if err := r.emit(ctx, st, ollama.ContextEvent(ollama.NoticeHandlingAnswer)); err != nil {
			return OutcomeTransport, err
		}
	}

	parser := ollama.NewParser(ex.Think)
	for {
		line, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = types.NewError(types.ErrUpstreamConnectionLost, "backend stream ended before done")
			}
			return r.upstreamLost(ctx, st, snapshot, err)
		}

		for _, ev := range parser.Parse(line) {
			if ev.Kind == ollama.EventDone {
				return r.complete(ctx, st)
			}
			r.observe(ctx, st, ev)
			if err := r.emit(ctx, st, ev); err != nil {
				cancel()
				return OutcomeTransport, err
			}
		}
	}
}

// observe 累积回答文本并记录流事件
func (r *Relay) observe(ctx context.Context, st *exchangeState, ev ollama.Event) {
	switch ev.Kind {
	case ollama.EventAnswerToken:
		st.answer.WriteString(ev.Text)
	case ollama.EventError:
		r.instruments.RecordBackendError(ctx, st.ex.Model)
		st.span.AddEvent("backend.error", trace.WithAttributes(attribute.String("error", ev.Text)))
		st.logger.Warn("backend reported an error", zap.String("error", ev.Text))
	}
	if ev.First && !st.firstSeen {
		st.firstSeen = true
		r.instruments.RecordFirstToken(ctx, st.ex.Model, time.Since(st.start).Seconds())
	}
}

// complete 追加助手消息并发送结束标记
func (r *Relay) complete(ctx context.Context, st *exchangeState) (string, error) {
	r.metrics.RecordStreamEvent(ollama.EventDone.String())
	if err := r.store.Append(ctx, st.ex.SessionID, types.NewAssistantMessage(st.answer.String())); err != nil {
		return OutcomeInternal, err
	}
	for _, unit := range Completion(st.ex.Transport) {
		if err := r.sendUnit(ctx, st, unit); err != nil {
			return OutcomeTransport, err
		}
	}
	return OutcomeCompleted, nil
}

// upstreamLost 回滚历史并尽力通知客户端
func (r *Relay) upstreamLost(ctx context.Context, st *exchangeState, snapshot []types.Message, err error) (string, error) {
	if ctx.Err() != nil {
		// 客户端断开或服务关闭导致的读取失败
		r.rollback(ctx, st, snapshot)
		return OutcomeTransport, types.NewError(types.ErrTransportSend, "exchange cancelled").WithCause(ctx.Err())
	}
	if !types.IsCode(err, types.ErrUpstreamConnectionLost) {
		err = types.NewError(types.ErrUpstreamConnectionLost, "backend stream failed").WithCause(err)
	}
	r.rollback(ctx, st, snapshot)
	if sendErr := r.sendFailure(ctx, st, clientMessage(err)); sendErr != nil {
		st.logger.Debug("failed to notify client of upstream loss", zap.Error(sendErr))
	}
	return OutcomeUpstreamLost, err
}

// emit 打标并发送一个事件
func (r *Relay) emit(ctx context.Context, st *exchangeState, ev ollama.Event) error {
	r.metrics.RecordStreamEvent(ev.Kind.String())
	for _, unit := range Frame(ev, st.ex.Transport) {
		if err := r.sendUnit(ctx, st, unit); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) sendUnit(ctx context.Context, st *exchangeState, unit string) error {
	if err := st.send.Send(ctx, unit); err != nil {
		return types.NewError(types.ErrTransportSend, "send to client").WithCause(err)
	}
	return nil
}

// sendFailure 发送错误帧与结束标记
func (r *Relay) sendFailure(ctx context.Context, st *exchangeState, text string) error {
	if err := r.emit(ctx, st, ollama.Event{Kind: ollama.EventError, Text: text}); err != nil {
		return err
	}
	for _, unit := range Completion(st.ex.Transport) {
		if err := r.sendUnit(ctx, st, unit); err != nil {
			return err
		}
	}
	return nil
}

// rollback 恢复到本轮开始前的历史
func (r *Relay) rollback(ctx context.Context, st *exchangeState, snapshot []types.Message) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.Replace(rctx, st.ex.SessionID, snapshot); err != nil && !types.IsCode(err, types.ErrUnknownSession) {
		st.logger.Warn("history rollback failed", zap.Error(err))
	}
}

// finish 记录指标、台账与 span 状态
func (r *Relay) finish(ctx context.Context, st *exchangeState, outcome string, err error) {
	duration := time.Since(st.start)
	r.metrics.RecordExchange(st.ex.Transport.String(), st.ex.Model, outcome, duration)

	st.span.SetAttributes(attribute.String("chatrelay.outcome", outcome))
	if err != nil {
		st.span.RecordError(err)
		st.span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}

	rec := usage.Record{
		SessionID:      st.ex.SessionID,
		Transport:      st.ex.Transport.String(),
		Model:          st.ex.Model,
		PromptTokens:   st.info.PromptTokens,
		RequestContext: st.info.RequestContext,
		AnswerChars:    utf8.RuneCountInString(st.answer.String()),
		Outcome:        outcome,
		DurationMS:     duration.Milliseconds(),
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if uerr := r.usage.Record(uctx, rec); uerr != nil {
		st.logger.Warn("usage record failed", zap.Error(uerr))
	}

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", st.info.PromptTokens),
		zap.Int("request_context", st.info.RequestContext),
	}
	switch outcome {
	case OutcomeCompleted, OutcomeConfiguration:
		st.logger.Info("exchange finished", fields...)
	case OutcomeTransport:
		st.logger.Info("exchange aborted, client gone", append(fields, zap.Error(err))...)
	default:
		st.logger.Error("exchange failed", append(fields, zap.Error(err))...)
	}
}

// clientMessage 返回给客户端看的错误文本
func clientMessage(err error) string {
	var e *types.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
