package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// Member is one detection folded into a cluster: the fields the
// aggregator and downstream scorer need, independent of how the
// detection was persisted.
type Member struct {
	DetectionID string
	UserID      string
	WallTime    time.Time
	Lat         float64
	Lon         float64
	Intensity   float64
	Stability   float64
}

// Cluster is a stable spatial grouping of detections. ID is a content
// hash of member locations, so recomputing a cluster from the same
// membership always yields the same ID, and any membership change
// yields a new one.
type Cluster struct {
	ID           string
	CentroidLat  float64
	CentroidLon  float64
	HitCount     int
	UserCount    int
	LastSeen     time.Time
	AvgIntensity float64
	AvgStability float64
	Members      []Member
}

// EpsM and MinPts name the DBSCAN parameters; callers may override via
// Params for testing or tuning, see Aggregate.
type Params struct {
	EpsM   float64
	MinPts int
}

// DefaultParams matches the 5-metre / 2-point clustering named for
// pothole aggregation.
func DefaultParams() Params {
	return Params{EpsM: 5.0, MinPts: 2}
}

// Aggregate runs DBSCAN over detections and folds each resulting cluster
// (noise points excluded) into a Cluster with a deterministic ID and
// summary statistics. Detections from the same trip are not treated
// specially: a cluster may legitimately be a single trip's repeated
// passes, or detections from many distinct trips/users.
func Aggregate(detections []Member, params Params) []Cluster {
	if len(detections) == 0 {
		return nil
	}

	points := make([]point, len(detections))
	for i, d := range detections {
		points[i] = point{lat: d.Lat, lon: d.Lon}
	}

	labels := dbscan(points, params.EpsM, params.MinPts)

	grouped := lo.GroupBy(lo.Range(len(detections)), func(i int) int {
		return labels[i]
	})

	var clusters []Cluster
	for label, indices := range grouped {
		if label == noiseLabel {
			continue
		}
		members := make([]Member, len(indices))
		for i, idx := range indices {
			members[i] = detections[idx]
		}
		clusters = append(clusters, buildCluster(members))
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters
}

func buildCluster(members []Member) Cluster {
	lats := make([]float64, len(members))
	lons := make([]float64, len(members))
	intensities := make([]float64, len(members))
	stabilities := make([]float64, len(members))

	userSet := make(map[string]struct{}, len(members))
	lastSeen := members[0].WallTime

	for i, m := range members {
		lats[i] = m.Lat
		lons[i] = m.Lon
		intensities[i] = m.Intensity
		stabilities[i] = m.Stability
		userSet[m.UserID] = struct{}{}
		if m.WallTime.After(lastSeen) {
			lastSeen = m.WallTime
		}
	}

	return Cluster{
		ID:           contentHashID(lats, lons),
		CentroidLat:  stat.Mean(lats, nil),
		CentroidLon:  stat.Mean(lons, nil),
		HitCount:     len(members),
		UserCount:    len(userSet),
		LastSeen:     lastSeen,
		AvgIntensity: stat.Mean(intensities, nil),
		AvgStability: stat.Mean(stabilities, nil),
		Members:      members,
	}
}

// contentHashID derives a stable cluster ID from member locations,
// rounded to 6 decimal places (~11cm) and sorted, so the ID is
// independent of member ordering and stable across recomputation with
// the same membership, but changes whenever membership changes.
func contentHashID(lats, lons []float64) string {
	type rounded struct{ lat, lon float64 }
	pairs := make([]rounded, len(lats))
	for i := range lats {
		pairs[i] = rounded{
			lat: roundTo(lats[i], 6),
			lon: roundTo(lons[i], 6),
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].lat != pairs[j].lat {
			return pairs[i].lat < pairs[j].lat
		}
		return pairs[i].lon < pairs[j].lon
	})

	h := sha256.New()
	for _, p := range pairs {
		fmt.Fprintf(h, "%.6f,%.6f;", p.lat, p.lon)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func roundTo(v float64, decimals int) float64 {
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return float64(int64(v*scale+signOf(v)*0.5)) / scale
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
