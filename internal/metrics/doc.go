// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP 请求、会话、对话轮次与流事件四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求与响应大小。
  - 会话指标：活跃会话数（实现 session.Observer）。
  - 对话指标：按传输、模型、结果统计的轮次数与耗时，
    prompt token 与 num_ctx 分布，以及被裁剪的历史消息数。
  - 流事件指标：按事件类型统计转发次数。
*/
package metrics
