// Package config 提供 ConstraintFlow 的配置管理功能。
//
// 配置按 默认值 → 配置文件（.yaml/.yml 使用 yaml.v3，.toml 使用
// BurntSushi/toml）→ 环境变量（前缀 CONSTRAINTFLOW_）的顺序合并，
// 仅在进程启动时读取一次。
package config
