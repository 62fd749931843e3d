// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 MissionFlow 智能体进程提供 TracerProvider 和 MeterProvider，
// 资源属性中带上智能体与任务标识。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
