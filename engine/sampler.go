package engine

import (
	"math"
	"math/rand/v2"
	"sort"
)

// sampler 实现温度 / top-k / top-p 采样；温度为 0 时退化为贪心。
type sampler struct {
	rng *rand.Rand
}

func newSampler(seed *int64) *sampler {
	if seed != nil {
		s := uint64(*seed)
		return &sampler{rng: rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))}
	}
	return &sampler{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// pick 从非空候选中选出一个。候选顺序不影响结果（按 logit 降序、ID 升序排序）。
func (s *sampler) pick(cands []Candidate, temperature, topP float64, topK int) Candidate {
	sorted := append([]Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Logit != sorted[j].Logit {
			return sorted[i].Logit > sorted[j].Logit
		}
		return sorted[i].ID < sorted[j].ID
	})
	if temperature <= 0 {
		return sorted[0]
	}
	if topK > 0 && topK < len(sorted) {
		sorted = sorted[:topK]
	}

	probs := make([]float64, len(sorted))
	maxLogit := sorted[0].Logit
	var total float64
	for i, c := range sorted {
		probs[i] = math.Exp((c.Logit - maxLogit) / temperature)
		total += probs[i]
	}

	if topP > 0 && topP < 1 {
		var cum float64
		cut := len(probs)
		for i, p := range probs {
			cum += p / total
			if cum >= topP {
				cut = i + 1
				break
			}
		}
		probs = probs[:cut]
		sorted = sorted[:cut]
		total = 0
		for _, p := range probs {
			total += p
		}
	}

	r := s.rng.Float64() * total
	for i, p := range probs {
		if r < p {
			return sorted[i]
		}
		r -= p
	}
	return sorted[len(sorted)-1]
}
