// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开 SQL 文档存储所用的数据库连接。

# 驱动

Dialector 按 config.DatabaseConfig.Driver 选择 GORM 方言：
postgres、mysql、sqlite（glebarez 纯 Go 实现）与 sqlite3（cgo）。

# 连接池

PoolManager 封装 GORM 与 database/sql 的连接池配置，后台定时
PingContext 探活，Close 时停止检查并释放连接。GetStats 返回
结构化的连接池运行指标，供健康检查接口使用。
*/
package database
