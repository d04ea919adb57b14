package ollama

import (
	"bytes"
	"encoding/json"
)

// Parser 把响应流的每一行转换为事件. 每轮一个实例，不可复用.
type Parser struct {
	thinkRequested       bool
	thinkingDisabledSent bool
	firstThinkingSeen    bool
	firstAnswerSeen      bool
	done                 bool
}

// NewParser 创建解析器. thinkRequested 为客户端是否请求了 thinking.
func NewParser(thinkRequested bool) *Parser {
	return &Parser{thinkRequested: thinkRequested}
}

// Done 报告是否已经解析到结束行.
func (p *Parser) Done() bool {
	return p.done
}

// Parse 解析一行. 空行、无法解析的行以及结束之后的行都不产生事件.
func (p *Parser) Parse(line []byte) []Event {
	if p.done {
		return nil
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var c chunk
	if err := json.Unmarshal(line, &c); err != nil {
		return nil
	}

	if c.Done {
		p.done = true
		return []Event{{Kind: EventDone}}
	}

	var events []Event
	if c.Message != nil {
		if !p.thinkRequested && !p.thinkingDisabledSent {
			p.thinkingDisabledSent = true
			events = append(events, Event{Kind: EventThinkingDisabled})
		}

		if c.Message.Thinking != nil {
			if !p.thinkingDisabledSent {
				events = append(events, Event{
					Kind:  EventThinkingDelta,
					Text:  *c.Message.Thinking,
					First: !p.firstThinkingSeen,
				})
				p.firstThinkingSeen = true
			}
		} else if c.Message.Content != "" {
			// 空内容（如工具调用块）不产生 token，也不消耗首 token 标记
			events = append(events, Event{
				Kind:  EventAnswerToken,
				Text:  c.Message.Content,
				First: !p.firstAnswerSeen,
			})
			p.firstAnswerSeen = true
		}
	}

	if text, ok := c.errorText(); ok {
		events = append(events, Event{Kind: EventError, Text: text})
	}

	return events
}
