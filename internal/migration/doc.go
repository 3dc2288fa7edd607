// 版权所有 2024 ConstraintFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理生成溯源表（generation_provenance）的 Schema 迁移，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下，
文件名形如 000001_create_generation_provenance.up.sql。服务启动时
provenance.GormStore 仍会 AutoMigrate；生产环境建议先执行
`constraintflow migrate up`，由版本表追踪变更。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/Steps/Version/Status/Info/Close。
  - CLI：格式化输出，供 cmd/constraintflow 的 migrate 子命令使用。
  - NewMigratorFromConfig：从 config.DatabaseConfig 构造（memory 驱动不支持）。
*/
package migration
