package budget

import (
	"fmt"
	"strings"

	"github.com/BaSui01/chatrelay/llm/tokenizer"
	"github.com/BaSui01/chatrelay/types"
)

// ModelCatalog 提供模型上下文窗口与分词器，由 *tokenizer.Catalog 实现.
type ModelCatalog interface {
	ContextLimit(model string) (int, bool)
	Tokenizer(model string) (tokenizer.Tokenizer, error)
}

// Info 是一轮对话的预算结果，每轮重新计算，不持久化.
type Info struct {
	// RequestContext 作为 num_ctx 发给后端
	RequestContext int
	// PromptTokens 序列化后的完整历史的 token 数
	PromptTokens int
}

// Estimator 估算请求所需的上下文窗口.
type Estimator struct {
	catalog        ModelCatalog
	responseTokens int
}

// NewEstimator 创建估算器. responseTokens 是为生成预留的全局 token 数.
func NewEstimator(catalog ModelCatalog, responseTokens int) *Estimator {
	return &Estimator{catalog: catalog, responseTokens: responseTokens}
}

// Estimate 计算 history 在 model 上的预算.
func (e *Estimator) Estimate(history []types.Message, model string) (Info, error) {
	contextLimit, ok := e.catalog.ContextLimit(model)
	if !ok {
		return Info{}, types.NewError(types.ErrUnknownModel,
			fmt.Sprintf("no context limit configured for model %q", model))
	}

	tok, err := e.catalog.Tokenizer(model)
	if err != nil {
		return Info{}, err
	}

	promptTokens, err := tok.CountTokens(Serialize(history))
	if err != nil {
		return Info{}, types.NewError(types.ErrTokenizerUnavailable,
			fmt.Sprintf("count tokens for model %q", model)).WithCause(err)
	}

	return Info{
		RequestContext: RequestContext(promptTokens, contextLimit, e.responseTokens),
		PromptTokens:   promptTokens,
	}, nil
}

// RequestContext 由 prompt token 数推导 num_ctx.
//
// 小 prompt 直接按 responseTokens 预留；总量低于安全余量的 70% 时取安全余量，
// 否则在 prompt+response 之上再加安全余量. 结果随 promptTokens 单调不减，且不小于 int(安全余量).
func RequestContext(promptTokens, contextLimit, responseTokens int) int {
	safetyMargin := 0.05 * float64(contextLimit)

	promptAndResponse := promptTokens + responseTokens
	if promptTokens < int(0.6*float64(responseTokens)) {
		promptAndResponse = responseTokens
	}

	if promptAndResponse < int(0.7*safetyMargin) {
		return int(safetyMargin)
	}
	return promptAndResponse + int(safetyMargin)
}

// Serialize 把历史按时间顺序序列化为 "<role>: <content>" 行.
func Serialize(history []types.Message) string {
	var sb strings.Builder
	for i, msg := range history {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}
