// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 executor 驱动单个智能体的步骤图：调度、派发、结果处理与失败恢复。

# 概述

Executor 把 PENDING 步骤派发到插件执行服务，并把结果落到步骤状态上：
成功则 COMPLETED 并保存工作产物；返回待输入标记则挂起为 WAITING 并向
任务权威登记请求；失败则经 classifier 分类后交给 recovery 中对应的
策略，策略无法修复时标记 ERROR 并级联取消永远无法满足依赖的下游步骤。

ExecuteStep 不返回错误，所有结果都体现在步骤状态中。

# 并发

步骤列表由智能体的单个控制循环拥有。Executor 自身不加锁，
所有接收步骤列表的方法都必须在该循环内调用。

# 调度

  - GetExecutableSteps：依赖已满足的 PENDING 步骤
  - CheckAndResumeWaitingSteps：恢复因依赖挂起且依赖已满足的 WAITING 步骤
  - CancelUnsatisfiedSteps：迭代到不动点，传递式取消下游步骤
  - HandleUserInputResponse：用外部答案完成等待中的步骤
  - RunProactiveResolution：运行主动扫描并应用自动确认

# 可观测性

每次状态转换记录 Prometheus 计数、写入 step_events 集合（可选），
并可向 StatusRecipient 推送 step_status 事件。每次派发生成一个
OpenTelemetry span，其 trace id 经 ctxkeys 传给插件客户端；派发次数、
耗时和待输入请求数同时作为 OTLP 指标导出。
*/
package executor
