// Package rebalance converts ranked scores into target weights and the
// minimal trade set that converges the portfolio toward them.
package rebalance

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// Score is one symbol's composite ranking value.
type Score struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

const weightEps = 1e-9

// ComputeTargetWeights filters scores below minScore, keeps the top N by
// score, and assigns score-proportional weights with an iterative
// cap-and-redistribute: weights above maxPositionPct are clamped to the cap
// and removed from the pool, and the remaining budget is re-split across the
// uncapped symbols in proportion to their scores. Converges in at most N
// iterations. An empty eligible universe yields an empty map (fully in
// cash).
func ComputeTargetWeights(scores []Score, minScore float64, topN int, maxPositionPct float64) map[string]float64 {
	eligible := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s.Score >= minScore {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		log.Warn().Float64("min_score", minScore).Int("scored", len(scores)).
			Msg("no qualifying symbols, target is all cash")
		return map[string]float64{}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Score != eligible[j].Score {
			return eligible[i].Score > eligible[j].Score
		}
		return eligible[i].Symbol < eligible[j].Symbol
	})
	if len(eligible) > topN {
		eligible = eligible[:topN]
	}

	weights := make(map[string]float64, len(eligible))
	capped := make(map[string]bool, len(eligible))

	for iter := 0; iter < len(eligible); iter++ {
		budget := 1.0 - maxPositionPct*float64(len(capped))
		poolScore := 0.0
		for _, s := range eligible {
			if !capped[s.Symbol] {
				poolScore += s.Score
			}
		}
		if poolScore <= 0 || budget <= 0 {
			break
		}

		overflowed := false
		for _, s := range eligible {
			if capped[s.Symbol] {
				continue
			}
			w := budget * s.Score / poolScore
			if w > maxPositionPct+weightEps {
				capped[s.Symbol] = true
				weights[s.Symbol] = maxPositionPct
				overflowed = true
			} else {
				weights[s.Symbol] = w
			}
		}
		if !overflowed {
			break
		}
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	log.Info().
		Int("symbols", len(weights)).
		Int("capped", len(capped)).
		Float64("total_weight", total).
		Msg("target weights computed")
	return weights
}
