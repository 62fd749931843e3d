// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MissionFlow 智能体进程入口。

# 概述

cmd/missionflow 运行单个智能体：读取 YAML 步骤计划，由控制循环驱动
步骤执行，并通过 HTTP 接收外部答案、冲突投票和运维探测。步骤图只由
控制循环所在的 goroutine 修改，HTTP 处理器经 channel 与其交互。

# 核心类型

  - Runner : 控制循环：调度可执行步骤，周期性主动恢复与冲突超时扫描
  - apiServer : HTTP 入口：/v1/input、/v1/steps、/v1/work-products、
    /v1/conflicts、/healthz、/metrics
  - runtime : 按配置装配存储、消息、插件客户端、执行器和冲突解决器
  - Middleware : HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：run、migrate、health、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、RateLimiter（基于 IP）、JWTAuth（HS256，sub 即智能体 ID）
  - 配置热更新：日志级别与扫描间隔无需重启
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
