/*
包 cache 提供已编译约束的内容寻址缓存。

# 概述

键为 constraint.Hash(specs)，即规范化字节的 SHA-256。命中时返回同一条目
（CompiledAt 不变）；未命中时编译并插入。并发请求同一个未命中键时通过
singleflight 只编译一次。

# 淘汰策略

按插入顺序 FIFO：容量已满时插入新键会淘汰最早插入的一条，访问不会
调整顺序。编译失败永不写入缓存。禁用模式下每次都重新编译、从不存储。

# 并发

查找持读锁，插入/淘汰/清空持写锁；编译期间不持有任何锁。
*/
package cache
