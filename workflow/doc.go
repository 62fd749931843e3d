/*
Package workflow 定义代理计划图中的步骤实体及其状态机。

步骤状态：PENDING、RUNNING、WAITING、COMPLETED、ERROR、CANCELLED。
合法转换由 CanTransition 描述，Step 的 Start / Complete / Wait / Fail /
Retry / Resume / Cancel 方法是唯一的状态修改入口。

图查询（AreDependenciesSatisfied、IsPermanentlyUnsatisfied、IsEndpoint、
ResolveInputs）以及基于 DFS 递归栈的循环检测（DetectCycle / BreakCycle）
都作用于同一个 []*Step 切片，不持有任何锁；调用方保证同一代理的步骤图
只被一个控制循环修改。
*/
package workflow
