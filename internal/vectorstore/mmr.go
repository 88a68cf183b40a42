package vectorstore

import (
	"context"
	"math"
	"sort"
)

// SortResults orders results by decreasing score. Equal scores are ordered
// by chunk index, then by path, so rankings are reproducible.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ai, bi := PayloadInt(a.Payload, KeyChunkIndex), PayloadInt(b.Payload, KeyChunkIndex)
		if ai != bi {
			return ai < bi
		}
		return PayloadString(a.Payload, KeyPath) < PayloadString(b.Payload, KeyPath)
	})
}

// MMR reranks candidates by maximal marginal relevance and returns up to k
// of them. lambda 1 ranks by relevance only, 0 by diversity only.
// Candidates must carry vectors.
func MMR(query []float32, candidates []SearchResult, k int, lambda float64) []SearchResult {
	pool := make([]SearchResult, len(candidates))
	copy(pool, candidates)
	SortResults(pool)

	if k > len(pool) {
		k = len(pool)
	}

	relevance := make([]float64, len(pool))
	for i, c := range pool {
		relevance[i] = float64(CosineSimilarity(query, c.Vector))
	}

	// maxSim[i] is the highest similarity of pool[i] to anything selected
	maxSim := make([]float64, len(pool))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}
	used := make([]bool, len(pool))
	selected := make([]SearchResult, 0, k)

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range pool {
			if used[i] {
				continue
			}
			diversity := 0.0
			if len(selected) > 0 {
				diversity = maxSim[i]
			}
			score := lambda*relevance[i] - (1-lambda)*diversity
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}

		used[best] = true
		selected = append(selected, pool[best])
		for i := range pool {
			if !used[i] {
				if s := float64(CosineSimilarity(pool[i].Vector, pool[best].Vector)); s > maxSim[i] {
					maxSim[i] = s
				}
			}
		}
	}

	return selected
}

// mmrSearch implements Store.MMRSearch on top of Store.Search
func mmrSearch(ctx context.Context, s Store, collection string, vector []float32, opts MMROptions, filter Filter) ([]SearchResult, error) {
	fetchK := opts.FetchK
	if fetchK < opts.K {
		fetchK = opts.K
	}
	candidates, err := s.Search(ctx, collection, vector, fetchK, filter, true)
	if err != nil {
		return nil, err
	}
	return MMR(vector, candidates, opts.K, opts.Lambda), nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when their lengths differ or either is a zero vector.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
