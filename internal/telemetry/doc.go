// Package telemetry 初始化 OpenTelemetry（OTLP gRPC 导出 trace 与指标），
// 并提供约束编译/生成相关的 span 属性键、FailSpan 与 Instruments。
// 禁用时不安装任何 provider，Tracer() 与 Instruments 的记录均为 noop。
package telemetry
