package provenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/constraintflow/types"
)

// GormStore 基于 GORM 的溯源存储
type GormStore struct {
	db      *gorm.DB
	logger  *zap.Logger
	observe func(operation string, d time.Duration)
}

// NewGormStore 创建存储并自动迁移表结构
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate provenance table: %w", err)
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "provenance"))}, nil
}

// WithQueryObserver 设置查询耗时回调（用于 db_query_duration 指标），返回自身
func (s *GormStore) WithQueryObserver(fn func(operation string, d time.Duration)) *GormStore {
	s.observe = fn
	return s
}

func (s *GormStore) track(operation string, start time.Time) {
	if s.observe != nil {
		s.observe(operation, time.Since(start))
	}
}

// Save 以 generation_id 为键 upsert
func (s *GormStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.GenerationID == "" {
		return types.NewError(types.ErrInvalidRequest, "provenance record requires a generation id")
	}
	defer s.track("save_provenance", time.Now())
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("save provenance %s: %w", rec.GenerationID, err)
	}
	s.logger.Debug("provenance saved",
		zap.String("generation_id", rec.GenerationID),
		zap.String("status", rec.Status),
	)
	return nil
}

func (s *GormStore) Get(ctx context.Context, generationID string) (*Record, error) {
	defer s.track("get_provenance", time.Now())
	var rec Record
	err := s.db.WithContext(ctx).Where("generation_id = ?", generationID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "no provenance for generation %q", generationID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "load provenance").WithCause(err)
	}
	return &rec, nil
}

// CountByConstraint 统计某个约束哈希下的生成次数
func (s *GormStore) CountByConstraint(ctx context.Context, hash string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Record{}).Where("constraint_hash = ?", hash).Count(&n).Error
	return n, err
}
