// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的任务执行引擎指标采集能力。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。
nil Collector 是合法的空实现，组件可以选择性注入。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 步骤指标：状态转换计数、插件调用耗时、错误分类计数、
    恢复策略结果、循环依赖删除边计数。
  - 工作产物指标：按 type/scope 分组的持久化计数、共享文件上传结果。
  - 冲突指标：创建/解决/升级计数与投票计数。
*/
package metrics
