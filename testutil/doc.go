// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 MissionFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertStepStatus / AssertJSONEqual
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON / StepIDs
  - 证书: WriteSelfSignedCert 生成 TLS 测试用的自签名证书

# 子包

  - testutil/mocks: MockPlugin（按步骤或操作编排插件响应）、
    RecordingSink（记录通知）、MockAuthority（记录待输入登记与升级）
  - testutil/fixtures: 步骤图构造器 Step / Dep / Completed / Chain

# 使用示例

	ctx := testutil.TestContext(t)
	p := mocks.NewMockPlugin().OnStep("s1", mocks.Text("result", "ok"))
	steps := fixtures.Chain("SEARCH", 3)
	testutil.AssertStepStatus(t, steps, "s1", workflow.StatusCompleted)
*/
package testutil
