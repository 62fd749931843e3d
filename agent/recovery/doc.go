// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 recovery 实现失败步骤的启发式修复策略与主动错误消解扫描。

# 策略

  - IntelligentRecovery：插件故障按新状态重试；依赖未满足时重新检查，
    可满足则重排队，尚未完成则挂起为 WAITING；服务不可达时固定退避后重试。
  - FixValidation：解开误嵌套的 {"value": x} 包装、在期望字符串处
    将结构化值序列化为字符串、从步骤描述推断少量常被遗漏的参数。
  - ConvertToQuestion：根据错误文本模板合成问题，把步骤改写为交互式提问步骤。

所有重试都消耗步骤的重试预算，预算耗尽后策略返回 false。

# 主动扫描

ProactiveErrorResolution 依次：复活仍有预算的 ERROR 步骤、
通过深度优先搜索打破依赖环并将删除的边写入审计集合、
为已知操作类型注入默认输入、重新校验插件凭证、
（显式开启时）挑选可自动回答 "yes" 的确认问题交给执行器处理。
*/
package recovery
