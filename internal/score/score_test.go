package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/roadsense/internal/cluster"
)

func TestFor_StrongClusterIsVeryLikely(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	c := cluster.Cluster{
		ID: "c1", HitCount: 10, UserCount: 3, AvgIntensity: 15, AvgStability: 0.9,
		LastSeen: now,
	}

	s := For(c, now)
	assert.Equal(t, VeryLikely, s.Likelihood)
	assert.GreaterOrEqual(t, s.Confidence, 0.66)
	assert.LessOrEqual(t, s.Confidence, 1.0)
}

func TestFor_SingleOldHitIsUncertain(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	c := cluster.Cluster{
		ID: "c2", HitCount: 1, UserCount: 1, AvgIntensity: 6, AvgStability: 0.6,
		LastSeen: now.Add(-200 * 24 * time.Hour),
	}

	s := For(c, now)
	assert.Equal(t, Uncertain, s.Likelihood)
}

func TestFor_RecencyDecaysConfidence(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	fresh := cluster.Cluster{ID: "c1", HitCount: 5, UserCount: 2, AvgIntensity: 10, AvgStability: 0.8, LastSeen: now}
	stale := fresh
	stale.ID = "c2"
	stale.LastSeen = now.Add(-60 * 24 * time.Hour)

	freshScore := For(fresh, now)
	staleScore := For(stale, now)
	assert.Less(t, staleScore.Confidence, freshScore.Confidence)
}

func TestFor_PriorityElevatesSevereUnstableBumps(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	severeUnstable := cluster.Cluster{ID: "c1", HitCount: 3, UserCount: 1, AvgIntensity: 15, AvgStability: 0.2, LastSeen: now}
	mild := cluster.Cluster{ID: "c2", HitCount: 3, UserCount: 1, AvgIntensity: 6, AvgStability: 0.9, LastSeen: now}

	severeScore := For(severeUnstable, now)
	mildScore := For(mild, now)

	assert.Greater(t, severeScore.Priority-severeScore.Confidence*0.7, mildScore.Priority-mildScore.Confidence*0.7)
}

func TestDashboardFilter_AppliesPercentileWithFloor(t *testing.T) {
	scores := []Score{
		{ClusterID: "a", Confidence: 0.10},
		{ClusterID: "b", Confidence: 0.20},
		{ClusterID: "c", Confidence: 0.30},
	}

	filtered := DashboardFilter(scores)
	for _, s := range filtered {
		assert.GreaterOrEqual(t, s.Confidence, dashboardFloor)
	}
}

func TestDashboardFilter_KeepsTopTierWhenAboveFloor(t *testing.T) {
	scores := []Score{
		{ClusterID: "a", Confidence: 0.50},
		{ClusterID: "b", Confidence: 0.70},
		{ClusterID: "c", Confidence: 0.90},
	}

	filtered := DashboardFilter(scores)
	require.NotEmpty(t, filtered)
	for _, s := range filtered {
		assert.GreaterOrEqual(t, s.Confidence, 0.66)
	}
}

func TestDashboardFilter_EmptyInput(t *testing.T) {
	assert.Empty(t, DashboardFilter(nil))
}
