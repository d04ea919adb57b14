// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package relay 把一次客户端提问转化为一次后端流式调用，并把后端事件
按传输方式重新打标后逐条发回客户端。

# 概述

Relay.Run 处理一轮对话（Exchange）：读取会话历史、追加用户消息、
估算 token 预算、按字符预算裁剪历史、向后端发起流式请求，然后对
每一行响应依次执行解析、打标与发送。发送完成之前不会读取下一行。

# 传输方式

  - TransportInteractive：WebSocket，每个单元是一条带 ___TAG___ 前缀的文本消息，
    一轮结束时发送 "Flow finished" 提示与 __END__ 哨兵。
  - TransportPlain：分块 HTTP，单元是不加标签的连续文本，一轮结束时追加换行。

# 失败处理

  - 配置错误（未知模型、分词器不可用）：回滚历史，发送错误帧与结束标记，返回 nil。
  - 后端连接丢失：回滚历史，尽力发送错误帧与结束标记，返回 UPSTREAM_CONNECTION_LOST。
  - 发送失败：立即取消后端流，返回 TRANSPORT_SEND_FAILED，由调用方结束会话作用域。
*/
package relay
