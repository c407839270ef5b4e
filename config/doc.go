// Package config 提供 hrmflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → HRM_ 前缀环境变量 的顺序加载，
// HotReloadManager 基于 FileWatcher 在文件变更时重新加载并校验配置，
// 校验失败时保留当前配置。
package config
