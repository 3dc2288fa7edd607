package provenance

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/BaSui01/constraintflow/types"
)

// MemoryStore 进程内溯源存储。超过容量时淘汰最久未访问的记录。
type MemoryStore struct {
	records  *ttlcache.Cache[string, Record]
	expiring bool
}

// NewMemoryStore 创建内存存储。retention <= 0 时记录不过期。
func NewMemoryStore(capacity uint64, retention time.Duration) *MemoryStore {
	opts := []ttlcache.Option[string, Record]{}
	if retention > 0 {
		opts = append(opts, ttlcache.WithTTL[string, Record](retention))
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, Record](capacity))
	}
	c := ttlcache.New[string, Record](opts...)
	if retention > 0 {
		go c.Start()
	}
	return &MemoryStore{records: c, expiring: retention > 0}
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if rec == nil || rec.GenerationID == "" {
		return types.NewError(types.ErrInvalidRequest, "provenance record requires a generation id")
	}
	s.records.Set(rec.GenerationID, *rec, ttlcache.DefaultTTL)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, generationID string) (*Record, error) {
	item := s.records.Get(generationID)
	if item == nil {
		return nil, types.Errorf(types.ErrNotFound, "no provenance for generation %q", generationID)
	}
	rec := item.Value()
	return &rec, nil
}

// Len 当前记录数
func (s *MemoryStore) Len() int {
	return s.records.Len()
}

// Close 停止过期清理。Stop 要求清理循环已启动。
func (s *MemoryStore) Close() {
	if s.expiring {
		s.records.Stop()
	}
}
