// Package telemetry 初始化 HRM 服务的 OpenTelemetry 追踪与指标导出。
// 禁用时保持全局 noop provider，不建立任何外部连接。
package telemetry
