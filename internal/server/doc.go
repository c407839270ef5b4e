// Package server 管理 HRM API 与指标端口的 HTTP 服务器生命周期：
// 非阻塞启动、连接数限制（x/net/netutil）以及基于 context 的优雅关闭。
package server
