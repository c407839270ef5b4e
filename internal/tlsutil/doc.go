// Package tlsutil 为 Redis 连接与 MCP 远程传输提供统一的 TLS 加固配置。
package tlsutil
