// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 MissionFlow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、agent 等上层模块
提供统一的错误契约。插件边界在错误产生处打上 ErrorCode 标签，分类器优先
读取标签，只有未标记的错误才回退到消息模式匹配。

# 核心类型

  - Error / ErrorCode : 结构化错误，含 HTTP 状态码、Retryable、Plugin 标记
  - AsError / GetErrorCode / IsErrorCode / IsRetryable : 沿 errors.As 链查找

# 常用错误构造

NewBadInputError / NewExecutionFaultError / NewPluginFaultError /
NewDependencyError / NewValidationError / NewServiceUnreachableError /
NewTimeoutError
*/
package types
