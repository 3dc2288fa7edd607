// Package metrics 注册并记录 ConstraintFlow 的 Prometheus 指标：HTTP、
// 约束编译、编译缓存、生成与溯源数据库。Collector 同时实现
// compiler/cache.Observer，缓存事件直接落到指标上。
package metrics
