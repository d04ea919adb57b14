// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 chatrelay 的 HTTP 与 WebSocket 处理器。

# 概述

两种传输共用同一个 relay.Relay：

  - WebSocketHandler — GET /ws，交互式传输。每个连接一个会话，
    提问按到达顺序逐个处理，事件以标签前缀逐条发送
  - StreamHandler    — POST /chat，纯文本分块传输。一次请求一轮对话，
    会话只在请求期间存在
  - HealthHandler    — /health、/healthz、/ready、/version

# 通用工具

  - WriteSuccess / WriteError / WriteJSON 统一 JSON 响应
  - DecodeJSONBody（1 MB 限制）、ValidateContentType
  - ErrorCode 到 HTTP 状态码的映射
  - ResponseWriter 捕获状态码，透传 Flush 与 Hijack

# 关闭

WebSocketHandler.Drain 停止接受新连接与新提问；Shutdown 等待进行中的
对话结束，超时后取消它们。
*/
package handlers
