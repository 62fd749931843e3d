// Package config 提供 MissionFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → MISSIONFLOW_ 前缀环境变量 的顺序加载，
// Validate 检查必填项与后端组合。Watcher 轮询配置文件，
// 变更后只把可热更新的字段（日志级别、扫描间隔）交给回调。
package config
