// Package session 保存每个连接的对话历史。
//
// Store 在注入的 Backend 之上提供会话生命周期：会话 ID 按连接生成（UUIDv7），
// 连接关闭或进程退出时销毁。内存后端按 FNV 哈希分片加锁，
// Redis 后端以滑动过期时间镜像进程内的生命周期，不会在重启后恢复。
package session
