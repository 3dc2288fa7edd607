// 版权所有 2024 ConstraintFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理进程内共享的 Redis 连接。

# 概述

Manager 封装 go-redis 客户端：启动时 Ping 确认可达，之后按间隔
后台健康检查，状态变化时通过 zap 记录一次。幂等存储
（idempotency.NewRedisStore）复用 Client() 的连接池，
/ready 探针读取 Healthy()。

# 核心类型

  - Manager：Client / Ping / Healthy / Close。
*/
package cache
