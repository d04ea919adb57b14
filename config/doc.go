// Package config 提供 chatrelay 的配置加载。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量以 CHATRELAY_ 为前缀，映射类字段使用 k1=v1,k2=v2 形式。
package config
