package api

import (
	"strings"

	"github.com/BaSui01/chatrelay/types"
)

// =============================================================================
// 提问请求类型
// =============================================================================

// PromptRequest 代表客户端的一次提问.
// WebSocket 每条文本消息与 POST /chat 的请求体都使用该结构.
type PromptRequest struct {
	// 用户输入
	Prompt string `json:"prompt" example:"Hi"`
	// 模型名称（例如 mistral、gpt-oss:20b）
	Model string `json:"model" example:"mistral"`
	// 是否请求推理过程
	Thinking bool `json:"thinking" example:"false"`
	// 兼容旧客户端的字段，始终按新鲜预算处理，不影响行为
	History bool `json:"history,omitempty"`
}

// Validate 校验请求. 返回的错误码为 INVALID_REQUEST.
func (r *PromptRequest) Validate() *types.Error {
	if strings.TrimSpace(r.Prompt) == "" {
		return types.NewError(types.ErrInvalidRequest, "prompt is required")
	}
	if strings.TrimSpace(r.Model) == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required")
	}
	return nil
}

// =============================================================================
// 运维类型
// =============================================================================

// VersionInfo 版本信息
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
