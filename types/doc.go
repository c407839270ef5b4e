// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 hrmflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 complexity、pattern、
convergence、engine、api 等上层模块提供统一的类型契约。

# 核心类型

  - Tier             : 查询复杂度等级（simple / medium / complex / expert）
  - Level / Phase    : 步骤层级（HIGH / LOW）与流水线阶段
  - Step / Pattern   : H-L-H 工具调用序列，Summary / Levels / Key
  - ToolResult       : 单次工具调用结果（置信度、耗时、重试次数）
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithTier
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
*/
package types
