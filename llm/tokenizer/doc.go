// Package tokenizer 提供统一的 Token 计数接口与模型目录，
// 支持 tiktoken 精确计数（可从本地目录加载 BPE 文件）与 CJK 估算器，
// 用于请求上下文窗口的预算计算。
package tokenizer
