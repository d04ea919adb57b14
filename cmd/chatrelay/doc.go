// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 chatrelay 服务端程序入口。

# 概述

cmd/chatrelay 组装会话存储、模型目录、上下文预算、后端客户端与编排器，
并按 server.mode 启动 WebSocket（交互式）与 HTTP 流（纯文本）监听器，
另有独立的 Prometheus metrics 端口。

# 核心类型

  - Server      — 组件装配与监听器生命周期（每个监听器一个 server.Manager）
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、usage（用量汇总）、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、
    RequestLogger、MetricsMiddleware、CORS
  - WebSocket 可在 /ws 或根路径升级；纯文本流为 POST /chat
  - 优雅关闭：信号 → 排空 WebSocket 连接 → 关闭监听器 → 关闭台账、Redis 与 OTel
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
