// Package score derives confidence, priority, and likelihood rankings
// from a cluster's aggregate statistics.
package score

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/roadsense/internal/cluster"
)

// Likelihood is a categorical summary of confidence.
type Likelihood string

const (
	VeryLikely Likelihood = "very_likely"
	Likely     Likelihood = "likely"
	Uncertain  Likelihood = "uncertain"
)

// dashboardFloor is the minimum confidence the high-priority view will
// ever return, even if the 66th percentile of the current cluster set
// falls below it.
const dashboardFloor = 0.40

// likelyThreshold and veryLikelyThreshold gate the Likelihood label.
const (
	likelyThreshold     = 0.40
	veryLikelyThreshold = 0.66
)

// Score is the scalar and categorical output for one cluster.
type Score struct {
	ClusterID  string
	Confidence float64
	Priority   float64
	Likelihood Likelihood
}

// For computes the confidence, priority, and likelihood for one cluster
// given the global detection time horizon now.
func For(c cluster.Cluster, now time.Time) Score {
	coverage := math.Min(float64(c.UserCount)/3, 1)
	hitsN := math.Min(float64(c.HitCount)/10, 1)
	intensityN := math.Max(0, math.Min((c.AvgIntensity-5)/10, 1))
	stabilityN := c.AvgStability

	deltaDays := math.Max(0, now.Sub(c.LastSeen).Hours()/24)
	recency := math.Exp(-deltaDays / 30)

	confidence := (0.45*coverage + 0.25*hitsN + 0.20*intensityN + 0.10*stabilityN) * recency
	priority := 0.7*confidence + 0.3*intensityN*(1-stabilityN)

	return Score{
		ClusterID:  c.ID,
		Confidence: confidence,
		Priority:   priority,
		Likelihood: likelihoodFor(confidence),
	}
}

func likelihoodFor(confidence float64) Likelihood {
	switch {
	case confidence >= veryLikelyThreshold:
		return VeryLikely
	case confidence >= likelyThreshold:
		return Likely
	default:
		return Uncertain
	}
}

// ForAll scores every cluster in clusters against the same time horizon.
func ForAll(clusters []cluster.Cluster, now time.Time) []Score {
	scores := make([]Score, len(clusters))
	for i, c := range clusters {
		scores[i] = For(c, now)
	}
	return scores
}

// DashboardFilter keeps only scores whose confidence is at or above the
// 66th percentile of scores, with a floor of dashboardFloor: this is an
// output-time filter, it never mutates stored cluster state.
func DashboardFilter(scores []Score) []Score {
	if len(scores) == 0 {
		return nil
	}

	confidences := make([]float64, len(scores))
	for i, s := range scores {
		confidences[i] = s.Confidence
	}
	sorted := append([]float64(nil), confidences...)
	sort.Float64s(sorted)

	threshold := math.Max(dashboardFloor, stat.Quantile(0.66, stat.Empirical, sorted, nil))

	var filtered []Score
	for _, s := range scores {
		if s.Confidence >= threshold {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
