// Package ollama 实现与 Ollama /api/chat 的流式对接：
// Client 发送请求并逐行读取 NDJSON 响应，Parser 把每一行转换为传输无关的事件。
package ollama
