package engine

import (
	"context"
)

// Candidate 模型给出的候选 token 及其 logit
type Candidate struct {
	ID    int
	Logit float64
}

// Model 推理后端边界。Candidates 返回下一步的候选（可以是词表子集）。
type Model interface {
	Name() string
	Vocabulary() Vocabulary
	Candidates(ctx context.Context, prompt string, generated []int) ([]Candidate, error)
}

// UniformModel 对整个词表给出相同 logit；EOSBias 加在 EOS 上，
// 为正时模型更倾向于在约束允许时尽早结束。
type UniformModel struct {
	name    string
	vocab   Vocabulary
	EOSBias float64
}

// NewUniformModel 创建均匀模型
func NewUniformModel(name string, vocab Vocabulary) *UniformModel {
	if vocab == nil {
		vocab = NewCharVocabulary()
	}
	if name == "" {
		name = "uniform"
	}
	return &UniformModel{name: name, vocab: vocab}
}

func (m *UniformModel) Name() string { return m.name }

func (m *UniformModel) Vocabulary() Vocabulary { return m.vocab }

func (m *UniformModel) Candidates(ctx context.Context, _ string, _ []int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := m.vocab.Size()
	out := make([]Candidate, n)
	eos := m.vocab.EOS()
	for id := 0; id < n; id++ {
		out[id] = Candidate{ID: id}
		if id == eos {
			out[id].Logit = m.EOSBias
		}
	}
	return out, nil
}
