package budget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/chatrelay/llm/tokenizer"
	"github.com/BaSui01/chatrelay/types"
)

// wordTokenizer 按空白切分计数，便于手算预期值.
type wordTokenizer struct {
	err error
}

func (w *wordTokenizer) CountTokens(text string) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n, nil
}

func (w *wordTokenizer) Name() string { return "words" }

type fakeCatalog struct {
	limits  map[string]int
	tok     tokenizer.Tokenizer
	tokErr  error
	lookups []string
}

func (f *fakeCatalog) ContextLimit(model string) (int, bool) {
	l, ok := f.limits[model]
	return l, ok
}

func (f *fakeCatalog) Tokenizer(model string) (tokenizer.Tokenizer, error) {
	f.lookups = append(f.lookups, model)
	if f.tokErr != nil {
		return nil, f.tokErr
	}
	return f.tok, nil
}

func TestSerialize(t *testing.T) {
	history := []types.Message{
		types.NewUserMessage("Hi"),
		types.NewAssistantMessage("Hello there"),
		types.NewUserMessage("How are you?"),
	}
	assert.Equal(t, "user: Hi\nassistant: Hello there\nuser: How are you?", Serialize(history))
	assert.Equal(t, "", Serialize(nil))
}

func TestRequestContext(t *testing.T) {
	tests := []struct {
		name           string
		promptTokens   int
		contextLimit   int
		responseTokens int
		want           int
	}{
		// safety = 409.6; 0.6*1024 = 614 → small prompt reserves 1024; 1024 >= int(286.72) → 1024+409
		{"small prompt", 10, 8192, 1024, 1433},
		{"large prompt", 2000, 8192, 1024, 3024 + 409},
		// safety = 6553.6, 0.7*safety = 4587 → 1024 < 4587 → int(safety)
		{"safety margin dominates", 10, 131072, 1024, 6553},
		{"boundary at 0.6", 614, 8192, 1024, 614 + 1024 + 409},
		{"just below 0.6", 613, 8192, 1024, 1024 + 409},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequestContext(tt.promptTokens, tt.contextLimit, tt.responseTokens))
		})
	}
}

func TestEstimator_Estimate(t *testing.T) {
	catalog := &fakeCatalog{
		limits: map[string]int{"mistral": 8192},
		tok:    &wordTokenizer{},
	}
	e := NewEstimator(catalog, 1024)

	history := []types.Message{types.NewUserMessage("Hi")}
	info, err := e.Estimate(history, "mistral")
	require.NoError(t, err)

	// "user: Hi" → 2 words
	assert.Equal(t, 2, info.PromptTokens)
	assert.Equal(t, 1433, info.RequestContext)
	assert.Equal(t, []string{"mistral"}, catalog.lookups)
}

func TestEstimator_UnknownModel(t *testing.T) {
	catalog := &fakeCatalog{limits: map[string]int{}, tok: &wordTokenizer{}}
	e := NewEstimator(catalog, 1024)

	_, err := e.Estimate([]types.Message{types.NewUserMessage("Hi")}, "nope")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnknownModel))
	// 未知模型不应去解析分词器
	assert.Empty(t, catalog.lookups)
}

func TestEstimator_TokenizerUnavailable(t *testing.T) {
	catalog := &fakeCatalog{
		limits: map[string]int{"mistral": 8192},
		tokErr: types.NewError(types.ErrTokenizerUnavailable, "missing"),
	}
	e := NewEstimator(catalog, 1024)

	_, err := e.Estimate(nil, "mistral")
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}

func TestEstimator_CountFailure(t *testing.T) {
	catalog := &fakeCatalog{
		limits: map[string]int{"mistral": 8192},
		tok:    &wordTokenizer{err: errors.New("boom")},
	}
	e := NewEstimator(catalog, 1024)

	_, err := e.Estimate([]types.Message{types.NewUserMessage("Hi")}, "mistral")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTokenizerUnavailable))
}

// TestProperty_RequestContext_Monotonic 任意上下文窗口与预留下，num_ctx 随 prompt token 数单调不减.
func TestProperty_RequestContext_Monotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		contextLimit := rapid.IntRange(1, 1_000_000).Draw(rt, "contextLimit")
		responseTokens := rapid.IntRange(1, 100_000).Draw(rt, "responseTokens")
		a := rapid.IntRange(0, 2_000_000).Draw(rt, "a")
		b := rapid.IntRange(a, 2_000_001).Draw(rt, "b")

		ra := RequestContext(a, contextLimit, responseTokens)
		rb := RequestContext(b, contextLimit, responseTokens)
		if ra > rb {
			rt.Fatalf("not monotonic: f(%d)=%d > f(%d)=%d", a, ra, b, rb)
		}
	})
}

// TestProperty_RequestContext_AtLeastSafetyMargin 结果不小于 int(0.05*contextLimit).
func TestProperty_RequestContext_AtLeastSafetyMargin(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		contextLimit := rapid.IntRange(1, 1_000_000).Draw(rt, "contextLimit")
		responseTokens := rapid.IntRange(1, 100_000).Draw(rt, "responseTokens")
		prompt := rapid.IntRange(0, 2_000_000).Draw(rt, "prompt")

		got := RequestContext(prompt, contextLimit, responseTokens)
		safety := int(0.05 * float64(contextLimit))
		if got < safety {
			rt.Fatalf("request context %d below safety margin %d", got, safety)
		}
	})
}
