// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package engine runs the four-stage HRM pipeline.

# 流水线

  1. 复杂度评估：complexity.Assessor 将查询划分为 simple/medium/complex/expert
  2. 模式选择：pattern.Selector 为该等级选出 H-L-H 工具序列
  3. 工具编排：按序调用工具并串联上下文，convergence.Detector 决定是否继续迭代
  4. 知识合成：结果分析、洞察与后续动作生成、历史记录与事件发布

# 并发

Engine 可被多个 goroutine 并发使用。相同查询的并发执行通过 singleflight
合并，整体并发受加权信号量约束；ExecuteBatch 使用 errgroup 限制并行度。

# 可选组件

通过 Option 注入：结果缓存（Redis）、历史存储、高级收敛分析器、事件总线、
指标记录器与上下文 token 计数器。
*/
package engine
