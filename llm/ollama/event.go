package ollama

// EventKind 事件类型.
type EventKind int

const (
	// EventContext 流程提示，如 "Asking to model"
	EventContext EventKind = iota
	// EventThinkingDisabled 客户端未请求 thinking，每轮最多一次
	EventThinkingDisabled
	// EventThinkingDelta 推理内容增量
	EventThinkingDelta
	// EventAnswerToken 回答内容增量
	EventAnswerToken
	// EventError 后端报告的错误，不结束本轮
	EventError
	// EventDone 本轮结束
	EventDone
)

// String 返回用于日志与指标标签的名称.
func (k EventKind) String() string {
	switch k {
	case EventContext:
		return "context"
	case EventThinkingDisabled:
		return "thinking_disabled"
	case EventThinkingDelta:
		return "thinking_delta"
	case EventAnswerToken:
		return "answer_token"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event 是与传输无关的流事件.
type Event struct {
	Kind EventKind
	Text string
	// First 标记本轮第一个 ThinkingDelta / AnswerToken
	First bool
}

// 流程提示文本.
const (
	NoticeAskingModel    = "Asking to model"
	NoticeHandlingAnswer = "Handling answer"
	NoticeFlowFinished   = "Flow finished"
)

// ContextEvent 构造流程提示事件.
func ContextEvent(text string) Event {
	return Event{Kind: EventContext, Text: text}
}
