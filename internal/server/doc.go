// 版权所有 2024 ConstraintFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
连接数上限、优雅关闭与系统信号监听。

# 概述

Manager 封装 net/http.Server。MaxConnections > 0 时监听器经
x/net/netutil.LimitListener 包装，超出的连接在内核队列中等待，
对应服务"同时处理的请求数有上限"的约束。配置了证书时在 Start 中经
tlsutil.ServerConfig 加载，证书错误同步返回，不会绑定端口。

# 核心类型

  - Manager：Start / Shutdown / WaitForShutdown(ctx) / Errors / ListenAddr / Closed。
  - Config：名称（api、metrics，用于日志）、监听地址、读写与空闲超时、请求头上限、最大连接数、
    证书路径与优雅关闭超时。
*/
package server
