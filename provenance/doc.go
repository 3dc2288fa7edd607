/*
包 provenance 记录每次生成的溯源信息（模型、后端、约束哈希、缓存命中、
耗时与结果），并支持按 generation_id 查询。

# 存储后端

  - MemoryStore — ttlcache 实现，容量与保留时长受限，进程退出即丢失
  - GormStore — GORM 实现，驱动由配置选择（postgres / mysql / sqlite）

写入为尽力而为：服务层记录失败只打日志，不影响生成结果。
*/
package provenance
