// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 SQL 文档存储的 Schema，支持 PostgreSQL、MySQL
与 SQLite，基于 golang-migrate 实现。

内嵌的迁移文件创建 documents 表（collection + id 主键、JSON 文本、
版本号、更新时间），与 persistence.SQLStore 的行结构一致。
Migrator 提供 Up/Down/Steps/Goto/Force/Version/Status/Info，
CLI 为 migrate 子命令格式化输出。

SQLite 默认通过名为 "sqlite" 的纯 Go 驱动打开，驱动由可执行文件
注册；配置驱动为 sqlite3 时改用 cgo 驱动。
*/
package migration
