// Package database 为溯源记录存储提供 GORM 连接。
//
// Dialector/Open 按驱动名选择 postgres、mysql 或 sqlite（glebarez 纯 Go
// 实现）；Pool 管理连接池上限与后台探活，Ping 用于 /ready。
package database
