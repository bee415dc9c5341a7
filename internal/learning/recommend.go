package learning

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Scoring weights. Each factor is normalized to [0,1] before weighting and
// the weighted sum is scaled to [0,100].
const (
	weightFrequency = 0.40
	weightSessions  = 0.25
	weightDensity   = 0.20
	weightRecency   = 0.15
)

// Recommendation is a scored promotion candidate.
type Recommendation struct {
	Normalized       string    `json:"normalized"`
	Score            float64   `json:"score"`
	Rationale        string    `json:"rationale"`
	Count            int       `json:"count"`
	DistinctSessions int       `json:"distinctSessions"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
}

// Recommend scores aggregates and returns the top candidates with at least
// minCount sightings, highest score first.
func Recommend(aggs []Aggregate, limit, minCount int, now time.Time) []Recommendation {
	if limit <= 0 {
		limit = 10
	}
	if minCount <= 0 {
		minCount = 1
	}

	maxCount := 0
	maxSessions := 0
	maxDensity := 0.0
	densities := make([]float64, len(aggs))
	for i, a := range aggs {
		if a.Count > maxCount {
			maxCount = a.Count
		}
		if a.DistinctSessions > maxSessions {
			maxSessions = a.DistinctSessions
		}
		span := a.LastSeen.Sub(a.FirstSeen).Seconds()
		if span < 1 {
			span = 1
		}
		densities[i] = float64(a.Count) / span
		if densities[i] > maxDensity {
			maxDensity = densities[i]
		}
	}

	recs := make([]Recommendation, 0, len(aggs))
	for i, a := range aggs {
		if a.Count < minCount {
			continue
		}
		freq := norm(float64(a.Count), float64(maxCount))
		sess := norm(float64(a.DistinctSessions), float64(maxSessions))
		dens := norm(densities[i], maxDensity)
		hours := now.Sub(a.LastSeen).Hours()
		if hours < 0 {
			hours = 0
		}
		rec := 1.0 / (1.0 + hours)

		score := weightFrequency*freq + weightSessions*sess + weightDensity*dens + weightRecency*rec
		score = math.Round(score*100*100) / 100

		recs = append(recs, Recommendation{
			Normalized:       a.Normalized,
			Score:            score,
			Count:            a.Count,
			DistinctSessions: a.DistinctSessions,
			FirstSeen:        a.FirstSeen,
			LastSeen:         a.LastSeen,
			// Raw factor values are embedded so an auditor can recompute.
			Rationale: fmt.Sprintf(
				"count=%d/%d sessions=%d/%d density=%.6f/%.6f recency=%.4f (hoursSinceLastSeen=%.2f)",
				a.Count, maxCount, a.DistinctSessions, maxSessions, densities[i], maxDensity, rec, hours),
		})
	}

	sort.Slice(recs, func(i, k int) bool {
		if recs[i].Score != recs[k].Score {
			return recs[i].Score > recs[k].Score
		}
		return recs[i].Normalized < recs[k].Normalized
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

func norm(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}
