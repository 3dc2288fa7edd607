// Package idempotency 为 /generate 提供基于 Idempotency-Key 的响应重放。
//
// 两种存储：RedisStore 适用于多实例部署，MemoryStore（ttlcache）适用于单实例。
// 存储键由请求头中的 Idempotency-Key 与请求体共同生成（Key），同一个键携带
// 不同请求体不会命中。Claim/Release 让相同键的并发请求只生成一次。
package idempotency
