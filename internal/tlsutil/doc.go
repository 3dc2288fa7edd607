// Package tlsutil 为 HTTPS 监听（internal/server）与 client 包构造 TLS 配置：
// TLS 1.2+，TLS 1.2 下仅 AEAD 密码套件，证书在启动时加载。
package tlsutil
