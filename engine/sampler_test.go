package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSampler_GreedyPicksHighestLogit(t *testing.T) {
	t.Parallel()

	s := newSampler(nil)
	cands := []Candidate{{ID: 3, Logit: 1}, {ID: 1, Logit: 2}, {ID: 2, Logit: 2}}
	assert.Equal(t, 1, s.pick(cands, 0, 1, 0).ID)
	// top-k = 1 与贪心一致
	assert.Equal(t, 1, s.pick(cands, 1.5, 1, 1).ID)
}

func TestSampler_TopPKeepsNucleus(t *testing.T) {
	t.Parallel()

	s := newSampler(nil)
	cands := []Candidate{{ID: 0, Logit: 10}, {ID: 1, Logit: 0}, {ID: 2, Logit: 0}}
	for i := 0; i < 50; i++ {
		assert.Equal(t, 0, s.pick(cands, 1, 0.5, 0).ID)
	}
}

func TestSampler_SeedIsReproducible(t *testing.T) {
	t.Parallel()

	cands := make([]Candidate, 50)
	for i := range cands {
		cands[i] = Candidate{ID: i}
	}
	seed := int64(7)
	a, b := newSampler(&seed), newSampler(&seed)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.pick(cands, 1, 1, 0), b.pick(cands, 1, 1, 0))
	}
}

// 采样结果总是输入候选之一，且 top-k 时属于 logit 最高的 k 个。
func TestProperty_Sampler_PicksFromCandidates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		logits := rapid.SliceOfN(rapid.Float64Range(-20, 20), 1, 30).Draw(rt, "logits")
		temperature := rapid.Float64Range(0, 2).Draw(rt, "temperature")
		topP := rapid.Float64Range(0.01, 1).Draw(rt, "top_p")
		topK := rapid.IntRange(0, len(logits)).Draw(rt, "top_k")
		seed := rapid.Int64().Draw(rt, "seed")

		cands := make([]Candidate, len(logits))
		for i, l := range logits {
			cands[i] = Candidate{ID: i, Logit: l}
		}
		got := newSampler(&seed).pick(cands, temperature, topP, topK)
		assert.GreaterOrEqual(rt, got.ID, 0)
		assert.Less(rt, got.ID, len(logits))

		if topK > 0 {
			higher := 0
			for _, c := range cands {
				if c.Logit > got.Logit {
					higher++
				}
			}
			assert.Less(rt, higher, topK)
		}
	})
}
