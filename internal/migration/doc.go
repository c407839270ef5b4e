// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package migration 管理 HRM 持久化表的 Schema 版本。

内嵌 postgres、mysql、sqlite 三种方言的 SQL 文件，基于 golang-migrate
执行。当前包含两张表：

  - hrm_executions：执行历史，对应 history.GormStore
  - hrm_knowledge：知识条目，对应 knowledge.GormStore

生产环境应通过 "hrmflow migrate up" 建表并关闭 database.auto_migrate；
开发环境可直接依赖 GORM AutoMigrate。CLI 类型为 cobra 子命令提供格式化输出。
*/
package migration
