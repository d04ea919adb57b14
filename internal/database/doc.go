// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查
与事务重试，是用量台账 (internal/usage) 的存储层。

# 概述

Open 按 usage 配置选择方言：sqlite 使用纯 Go 的 glebarez 驱动，
postgres 使用 gorm 官方驱动。PoolManager 封装 GORM 与 database/sql
的连接池配置，后台健康检查定时探活，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 支持指数退避重试（死锁、sqlite 锁、序列化失败等场景）。
*/
package database
