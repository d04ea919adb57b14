package ollama

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/chatrelay/types"
)

// ChatRequest 是发给 /api/chat 的请求体.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    bool            `json:"think"`
	Options  Options         `json:"options"`
}

// Options 是请求的运行参数.
type Options struct {
	NumCtx int `json:"num_ctx"`
}

// NewChatRequest 构造一个流式请求.
func NewChatRequest(model string, history []types.Message, think bool, numCtx int) *ChatRequest {
	return &ChatRequest{
		Model:    model,
		Messages: history,
		Stream:   true,
		Think:    think,
		Options:  Options{NumCtx: numCtx},
	}
}

// chunk 是响应流中的一行.
type chunk struct {
	Message *chunkMessage   `json:"message"`
	Done    bool            `json:"done"`
	Error   json.RawMessage `json:"error"`
}

// chunkMessage 的 Thinking 用指针区分 "键不存在" 与 "空字符串".
type chunkMessage struct {
	Content  string  `json:"content"`
	Thinking *string `json:"thinking"`
}

// errorText 把 error 字段渲染为文本. 字符串去掉引号，其他 JSON 值原样输出.
func (c *chunk) errorText() (string, bool) {
	raw := strings.TrimSpace(string(c.Error))
	if raw == "" || raw == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(c.Error, &s); err == nil {
		return s, true
	}
	return raw, true
}
