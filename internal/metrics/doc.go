// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、推理流水线、工具调用、缓存与数据库五个维度。

# 核心类型

  - Collector：指标收集器。NewCollector 注册到默认 Registry，
    NewCollectorWithRegistry 允许测试与多实例隔离。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 流水线指标：按 tier/status/converged 统计执行次数，
    以及执行耗时、迭代次数与收敛分数分布。
  - 工具指标：按 tool/status 统计调用，记录重试次数与熔断器状态。
    Collector 实现 tools.Recorder，可直接注入 Invoker。
  - 缓存与数据库指标：命中/未命中计数，连接池 Gauge。
*/
package metrics
