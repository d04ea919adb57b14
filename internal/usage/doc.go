// Package usage 记录每轮对话的用量台账.
//
// 台账只保存元数据（会话、模型、token 预算、回答长度、结果与耗时），
// 不保存任何消息内容。usage.driver 为空时使用 NopRecorder.
package usage
