// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 管理进程共享的 Redis 连接。

# 概述

Manager 封装 go-redis 客户端，负责连接初始化、后台健康检查与
优雅关闭。会话存储的 Redis 后端与 /ready 就绪检查共用同一个 Manager。

# 主要能力

  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 键前缀：Key 按配置的前缀拼接业务键。
*/
package cache
