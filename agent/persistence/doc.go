// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供任务执行引擎使用的版本化文档存储抽象及多后端实现。

# 概述

工作产物、步骤事件、共享文件清单、冲突记录与依赖审计都以 JSON 文档
形式按 (collection, id) 存放。每个文档带有单调递增的版本号，
CompareAndSwap 仅在版本匹配时写入，用于多副本并发追加清单和投票。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - DocumentStore: Save / Load / Delete / Query / CompareAndSwap。

# 后端

  - MemoryStore: 进程内 map，适用于开发与测试。
  - RedisStore: 每个文档一个 Hash，集合索引 id，WATCH/MULTI 实现 CAS。
  - SQLStore: GORM documents 表，条件 UPDATE 的 RowsAffected 判定冲突。
  - MongoStore: 单集合存放，_id 唯一键 + version 条件更新。

NewDocumentStore 根据 StoreType 与已连接的 Backends 选择实现。
*/
package persistence
