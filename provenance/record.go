package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record 一次生成的溯源记录
type Record struct {
	GenerationID        string    `gorm:"primaryKey;size:64" json:"generation_id"`
	RequestID           string    `gorm:"size:64;index" json:"request_id,omitempty"`
	Status              string    `gorm:"size:16;not null;index" json:"status"`
	Model               string    `gorm:"size:100" json:"model"`
	Backend             string    `gorm:"size:50" json:"backend"`
	ConstraintHash      string    `gorm:"size:64;index" json:"constraint_hash,omitempty"`
	CacheHit            bool      `json:"cache_hit"`
	PromptSHA256        string    `gorm:"column:prompt_sha256;size:64" json:"prompt_sha256"`
	TokensGenerated     int       `json:"tokens_generated"`
	TokensPerSecond     float64   `json:"tokens_per_second"`
	FinishReason        string    `gorm:"size:16" json:"finish_reason,omitempty"`
	ConstraintSatisfied bool      `json:"constraint_satisfied"`
	ErrorType           string    `gorm:"size:50" json:"error_type,omitempty"`
	ErrorMessage        string    `gorm:"size:1000" json:"error_message,omitempty"`
	StartedAt           time.Time `gorm:"index" json:"started_at"`
	CompletedAt         time.Time `json:"completed_at"`
}

// TableName 指定表名
func (Record) TableName() string {
	return "generation_provenance"
}

// Duration 生成耗时
func (r *Record) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// PromptDigest 返回 prompt 的 SHA-256，记录中不保存原文
func PromptDigest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Store 溯源记录存储接口
type Store interface {
	// Save 写入或覆盖一条记录
	Save(ctx context.Context, rec *Record) error
	// Get 按 generation_id 查询；不存在时返回 NOT_FOUND
	Get(ctx context.Context, generationID string) (*Record, error)
}
