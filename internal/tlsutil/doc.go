// Package tlsutil 提供集中式 TLS 与 HTTP 客户端配置，
// 为上游后端连接提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
