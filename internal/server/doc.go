// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理智能体 HTTP 入口的生命周期。

# 概述

Manager 封装 net/http.Server，负责监听、后台服务、优雅关闭与
异步错误传播。信号处理交给调用方（cmd/missionflow 使用
signal.NotifyContext），本包只关心服务器本身。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与错误通道，
    提供 Start/Shutdown/Errors/Addr/IsRunning。
  - Config：监听地址、读写与空闲超时、请求头上限、关闭超时，
    以及可选的 TLS 证书路径。

# 主要能力

  - 非阻塞启动；Addr 在启动后返回实际绑定地址，":0" 可用于测试。
  - 同时配置证书与私钥时使用 tlsutil 的加固设置以 HTTPS 监听。
  - Shutdown 幂等，关闭后不可再次启动。
*/
package server
