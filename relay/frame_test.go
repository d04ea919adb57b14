package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/chatrelay/llm/ollama"
)

func TestFrame_Interactive(t *testing.T) {
	tests := []struct {
		name string
		ev   ollama.Event
		want []string
	}{
		{"context", ollama.ContextEvent(ollama.NoticeAskingModel), []string{"___CTX___Asking to model"}},
		{"thinking", ollama.Event{Kind: ollama.EventThinkingDelta, Text: "hmm", First: true}, []string{"___THINKING___hmm"}},
		{"thinking disabled", ollama.Event{Kind: ollama.EventThinkingDisabled}, []string{"___THINKING___Thinking has been disabled\n"}},
		{"token first", ollama.Event{Kind: ollama.EventAnswerToken, Text: "Hello", First: true}, []string{"___TOKEN___Hello"}},
		{"token later", ollama.Event{Kind: ollama.EventAnswerToken, Text: " there"}, []string{"___TOKEN___ there"}},
		{"error", ollama.Event{Kind: ollama.EventError, Text: "overloaded"}, []string{
			"___ERROR___overloaded\n",
			"___TOKEN___Answer unavailable due to error\n",
		}},
		{"done", ollama.Event{Kind: ollama.EventDone}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Frame(tt.ev, TransportInteractive))
		})
	}
}

func TestFrame_Plain(t *testing.T) {
	tests := []struct {
		name string
		ev   ollama.Event
		want []string
	}{
		{"context dropped", ollama.ContextEvent(ollama.NoticeHandlingAnswer), nil},
		{"thinking first", ollama.Event{Kind: ollama.EventThinkingDelta, Text: "hmm", First: true}, []string{"Thinking:hmm"}},
		{"thinking later", ollama.Event{Kind: ollama.EventThinkingDelta, Text: " more"}, []string{" more"}},
		{"thinking disabled", ollama.Event{Kind: ollama.EventThinkingDisabled}, []string{"Thinking has been disabled\n"}},
		{"token first", ollama.Event{Kind: ollama.EventAnswerToken, Text: "Hello", First: true}, []string{"Answer: Hello"}},
		{"token later", ollama.Event{Kind: ollama.EventAnswerToken, Text: " there"}, []string{" there"}},
		{"error", ollama.Event{Kind: ollama.EventError, Text: "overloaded"}, []string{"ERROR: overloaded\n"}},
		{"done", ollama.Event{Kind: ollama.EventDone}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Frame(tt.ev, TransportPlain))
		})
	}
}

func TestFrame_FirstPrefixIsDeterministic(t *testing.T) {
	// 同一个 token 在两个独立的解析器中分别作为首个与后续 token
	first := ollama.NewParser(true).Parse([]byte(`{"message":{"content":"Hi"}}`))
	p := ollama.NewParser(true)
	p.Parse([]byte(`{"message":{"content":"x"}}`))
	later := p.Parse([]byte(`{"message":{"content":"Hi"}}`))

	for i := 0; i < 2; i++ {
		assert.Equal(t, []string{"Answer: Hi"}, Frame(first[0], TransportPlain))
		assert.Equal(t, []string{"Hi"}, Frame(later[0], TransportPlain))
	}
	assert.Equal(t, Frame(first[0], TransportInteractive), Frame(later[0], TransportInteractive))
}

func TestCompletion(t *testing.T) {
	assert.Equal(t, []string{"___CTX___Flow finished", "__END__"}, Completion(TransportInteractive))
	assert.Equal(t, []string{"\n"}, Completion(TransportPlain))
}

func TestTransport_String(t *testing.T) {
	assert.Equal(t, "interactive", TransportInteractive.String())
	assert.Equal(t, "plain", TransportPlain.String())
	assert.Equal(t, "unknown", Transport(9).String())
}
