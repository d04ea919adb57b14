// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 chatrelay 网关的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、relay、session、
api 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message / Role    — 对话消息（user / assistant），追加后不可变
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 错误分类

  - 配置类：UNKNOWN_MODEL、TOKENIZER_UNAVAILABLE（IsConfiguration）
  - 上游类：UPSTREAM_ERROR、UPSTREAM_CONNECTION_LOST
  - 传输类：TRANSPORT_SEND_FAILED
  - 会话类：DUPLICATE_SESSION、UNKNOWN_SESSION
*/
package types
