// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 hrmflow 可执行入口。

# 子命令

  - serve   : 启动 HTTP API 与独立的 Metrics 端口
  - query   : 本地执行一次完整流水线并输出 JSON
  - analyze : 只做复杂度评估与模式选择
  - status  : 输出引擎状态
  - migrate : up/down/reset/status/version/goto/force/steps
  - health  : 检查运行中服务的 /health
  - version : 构建信息，由 -ldflags 注入 Version、BuildTime、GitCommit

# 中间件链

Recovery → RequestID → SecurityHeaders → RequestLogger → Metrics →
OTelTracing → CORS → RateLimiter → Auth（X-API-Key 或 HS256 JWT）

# 热更新

指定 --config 时监听配置文件。log.level、server.rate_limit_*、
engine.slow_execution 与 patterns.file 立即生效，其余变更需重启。
*/
package main
