// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力，供执行结果缓存、知识库与
收敛性能存储共享同一连接。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/Ping 与
    GetJSON/SetJSON，键统一加 KeyPrefix 前缀。
  - Config：地址、密码、连接池、默认 TTL、TLS 与健康检查间隔。
  - Stats：本地命中/未命中计数与键数量。

# 主要能力

  - QueryKey：查询归一化（小写、合并空白）后哈希为缓存键。
  - 健康检查：后台定时 Ping，Close 时停止并等待退出。
  - 错误语义：ErrCacheMiss / ErrClosed 哨兵错误。
*/
package cache
