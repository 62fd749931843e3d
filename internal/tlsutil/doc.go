// Package tlsutil 提供集中式 TLS 配置，
// 为智能体 HTTP 入口与插件服务客户端提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
