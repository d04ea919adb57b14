package relay

import (
	"github.com/BaSui01/chatrelay/llm/ollama"
)

// Transport 客户端传输方式
type Transport int

const (
	// TransportInteractive WebSocket，事件打标
	TransportInteractive Transport = iota
	// TransportPlain 分块 HTTP，连续文本
	TransportPlain
)

// String 返回用于日志与指标标签的名称
func (t Transport) String() string {
	switch t {
	case TransportInteractive:
		return "interactive"
	case TransportPlain:
		return "plain"
	default:
		return "unknown"
	}
}

// 交互式标签
const (
	TagContext  = "___CTX___"
	TagThinking = "___THINKING___"
	TagToken    = "___TOKEN___"
	TagError    = "___ERROR___"

	// EndSentinel 一轮结束的哨兵，不加标签
	EndSentinel = "__END__"
)

const (
	thinkingDisabledText  = "Thinking has been disabled\n"
	answerUnavailableText = "Answer unavailable due to error\n"

	plainThinkingLabel = "Thinking:"
	plainAnswerLabel   = "Answer: "
	plainErrorLabel    = "ERROR: "
)

// Frame 把事件转换为零个或多个发送单元. 纯函数.
// Done 事件不产生单元，结束标记由 Completion 给出.
func Frame(ev ollama.Event, kind Transport) []string {
	if kind == TransportPlain {
		return framePlain(ev)
	}
	return frameInteractive(ev)
}

func frameInteractive(ev ollama.Event) []string {
	switch ev.Kind {
	case ollama.EventContext:
		return []string{TagContext + ev.Text}
	case ollama.EventThinkingDelta:
		return []string{TagThinking + ev.Text}
	case ollama.EventThinkingDisabled:
		return []string{TagThinking + thinkingDisabledText}
	case ollama.EventAnswerToken:
		return []string{TagToken + ev.Text}
	case ollama.EventError:
		return []string{
			TagError + ev.Text + "\n",
			TagToken + answerUnavailableText,
		}
	default:
		return nil
	}
}

func framePlain(ev ollama.Event) []string {
	switch ev.Kind {
	case ollama.EventThinkingDelta:
		if ev.First {
			return []string{plainThinkingLabel + ev.Text}
		}
		return []string{ev.Text}
	case ollama.EventThinkingDisabled:
		return []string{thinkingDisabledText}
	case ollama.EventAnswerToken:
		if ev.First {
			return []string{plainAnswerLabel + ev.Text}
		}
		return []string{ev.Text}
	case ollama.EventError:
		return []string{plainErrorLabel + ev.Text + "\n"}
	default:
		// 纯文本流不转发流程提示
		return nil
	}
}

// Completion 返回一轮结束时的单元
func Completion(kind Transport) []string {
	if kind == TransportPlain {
		return []string{"\n"}
	}
	return []string{TagContext + ollama.NoticeFlowFinished, EndSentinel}
}
