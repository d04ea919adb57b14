// Package api 定义 chatrelay 客户端协议的请求类型.
//
// # 传输方式
//
// chatrelay 提供两种传输：
//   - 交互式：GET /ws（默认端口 8765），每条客户端文本消息是一个 PromptRequest，
//     服务端逐条发送带 ___TAG___ 前缀的单元，一轮以 __END__ 结束。
//   - 纯文本流：POST /chat（默认端口 9765），请求体是 PromptRequest，
//     响应为 text/plain 分块流，一次请求对应一轮对话。
//
// # 运维端点
//
// 两个监听器都提供 /health、/healthz、/ready 与 /version，
// Prometheus 指标位于 metrics 端口（默认 9091）的 /metrics。
package api
