// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database 打开 HRM 使用的 GORM 连接并管理连接池。

Open 按 database.driver 选择 postgres、mysql 或 sqlite（纯 Go 的
glebarez/sqlite）驱动，SQL 慢日志写入 zap。PoolManager 应用连接池参数，
后台定时探活，并通过 StatsRecorder 把连接数上报给 Prometheus。
history 与 knowledge 的 GormStore 共享同一个 *gorm.DB。
*/
package database
