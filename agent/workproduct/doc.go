// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 workproduct 负责步骤输出的分类、持久化与共享文件发布。

# 概述

步骤完成后，其输出以 WorkProduct 形式按 agentId_stepId 只写一次地
保存到文档存储，并按 Plan / Final / Interim 类型和 AgentOutput /
AgentStep 范围分类，随后向订阅者发送摘要通知（Plan 只携带步骤数）。

# 共享文件

终点步骤的非空输出，或用户可见的输出（下游交互步骤直接依赖、
声明了文件名或 MIME 类型、超过阈值的长文本）会并发上传到 FileStore。
上传失败只记录日志，不影响步骤本身。上传完成后通过版本号比较交换
追加任务文件清单，并广播完整列表与本次新增文件。

# 核心类型

  - Manager：SaveWorkProductWithClassification / LoadAll / Load
  - FileStore / LocalFileStore：带 SHA-256 校验和的本地共享文件存储
  - Manifest：任务级共享文件清单
*/
package workproduct
