// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conflict 实现智能体之间的冲突投票与升级协议。

# 概述

发起方以请求自身的 id 为键创建冲突记录，保存到文档存储后，
经 mission.Directory 解析每个参与者的当前地址并推送
conflict_resolution 消息。无法解析的参与者被跳过，不影响创建。

# 投票

SubmitVote 以键写入投票（同一参与者后写覆盖先写），并在比较交换
循环中完成，多个副本并发投票不会丢票。VOTING 策略下每次投票都从
完整投票表重新计票：

  - 某一选项获得参与者的严格多数时立即 RESOLVED
  - 全部投票后唯一的最高票选项 RESOLVED
  - 全部投票后出现平票则 ESCALATED

AUTHORITY 策略只收集投票，截止时间后交由任务权威裁决。

# 超时

截止时间只在 CheckExpiredConflicts 周期扫描时检查，过期的 PENDING
冲突转为 ESCALATED 并上报任务权威。再次扫描已升级的冲突不产生任何变化。
*/
package conflict
