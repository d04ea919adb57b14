package budget

import (
	"unicode/utf8"

	"github.com/BaSui01/chatrelay/types"
)

// CharsPerToken 把 token 预算换算为字符预算.
const CharsPerToken = 4

// Trim 从最新消息向前累计内容字符数，保留不超过 maxChars 的最长后缀.
// 角色前缀与分隔换行不计入预算.
//
// 第一条会使累计超限的消息及其之前的消息全部丢弃，不做部分截断.
// 返回新切片，不修改输入. 最新消息单独超限时返回空切片.
func Trim(history []types.Message, maxChars int) []types.Message {
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += utf8.RuneCountInString(history[i].Content)
		if total > maxChars {
			break
		}
		start = i
	}
	return types.CloneHistory(history[start:])
}
