package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/config"
	"github.com/BaSui01/constraintflow/engine"
	"github.com/BaSui01/constraintflow/types"
)

// ModelLoader 构建推理后端。首个生成请求（或 Warmup）时调用一次。
type ModelLoader func(ctx context.Context) (engine.Model, error)

// DefaultModelLoader 按配置构建内置后端
func DefaultModelLoader(cfg config.ModelConfig) ModelLoader {
	return func(ctx context.Context) (engine.Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch strings.ToLower(cfg.Backend) {
		case "", "uniform":
		default:
			return nil, fmt.Errorf("unsupported model backend %q", cfg.Backend)
		}
		vocab, err := loadVocabulary(cfg)
		if err != nil {
			return nil, err
		}
		return engine.NewUniformModel(cfg.Name, vocab), nil
	}
}

func loadVocabulary(cfg config.ModelConfig) (engine.Vocabulary, error) {
	switch cfg.Vocabulary {
	case "", "char":
		return engine.NewCharVocabulary(), nil
	case engine.EncodingCL100K, engine.EncodingO200K:
		v := engine.NewTiktokenVocabulary(cfg.Vocabulary, cfg.VocabularyLimit)
		if err := v.Load(); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported vocabulary %q", cfg.Vocabulary)
	}
}

// Warmup 立即加载模型（model.preload）
func (s *Service) Warmup(ctx context.Context) error {
	_, err := s.loadEngine(ctx)
	return err
}

// ModelLoaded 模型是否已加载
func (s *Service) ModelLoaded() bool {
	return s.engine.Load() != nil
}

// loadEngine 返回已加载的引擎；首次调用时加载模型。并发的首批调用只触发一次加载，
// 加载本身不随单个调用方取消。失败不缓存，下一次调用重试。
func (s *Service) loadEngine(ctx context.Context) (*engine.Engine, error) {
	if eng := s.engine.Load(); eng != nil {
		return eng, nil
	}

	ch := s.loadGroup.DoChan("model", func() (any, error) {
		if eng := s.engine.Load(); eng != nil {
			return eng, nil
		}
		start := time.Now()
		model, err := s.loader(context.WithoutCancel(ctx))
		if err != nil {
			s.loadFailed.Store(true)
			s.logger.Error("model load failed", zap.Error(err))
			return nil, err
		}
		eng := engine.New(model, engine.WithLogger(s.logger))
		s.engine.Store(eng)
		s.loadFailed.Store(false)
		if s.metrics != nil {
			s.metrics.SetModelLoaded(true)
		}
		s.logger.Info("model loaded",
			zap.String("model", model.Name()),
			zap.Int("vocabulary_size", model.Vocabulary().Size()),
			zap.Duration("cold_start", time.Since(start)))
		return eng, nil
	})

	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, types.NewError(types.ErrModelUnavailable, "model failed to load").WithCause(res.Err)
		}
		return res.Val.(*engine.Engine), nil
	}
}
