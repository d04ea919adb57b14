// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供监听器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。chatrelay 的 WebSocket 端点、纯 HTTP 流端点
与 metrics 端点各自由一个 Manager 承载，由 cmd/chatrelay 通过
errgroup 统一编排。

# 核心类型

  - Manager：监听器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown/Wait 等生命周期方法。
  - Config：监听器配置，包含监听地址、读写超时、空闲超时、
    最大请求头大小与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空。
    被劫持的 WebSocket 连接通过 RegisterOnShutdown 通知关闭。
  - 错误传播：Wait/Errors 暴露监听器的异常退出。
  - 地址查询：启动后 Addr 返回实际绑定的地址。
*/
package server
