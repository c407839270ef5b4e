// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 hrmflow HTTP API 的请求处理器。

# 核心类型

  - QueryHandler    : 执行、批量执行、分析与状态
  - HistoryHandler  : 最近执行记录
  - KnowledgeHandler: 知识检索与按 key 读取
  - EventsHandler   : 基于 WebSocket 的引擎事件流
  - HealthHandler   : /health、/ready 与版本信息
  - Response        : 统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

types.Error 的错误码映射为 HTTP 状态码；非 types.Error 一律返回 500。
执行失败本身不是 HTTP 错误：结果以 200 返回，success=false。
客户端断开导致的取消不写响应。
*/
package handlers
