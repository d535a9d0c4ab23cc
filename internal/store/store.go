// Package store defines the Trip and Detection persistence interfaces
// used by the ingest pipeline and the query API. Concrete adapters live
// in memstore (in-process, for tests and small deployments) and
// sqlitestore (durable, for production).
package store

import (
	"context"
	"time"

	"github.com/relabs-tech/roadsense/internal/cluster"
	"github.com/relabs-tech/roadsense/internal/detect"
	"github.com/relabs-tech/roadsense/internal/roughness"
)

// DetectionRecord is a persisted detection event, keyed by a stable ID
// independent of the in-memory detect.Event it was derived from.
type DetectionRecord struct {
	ID        string
	TripID    string
	UserID    string
	WallTime  time.Time
	Lat       float64
	Lon       float64
	Intensity float64
	Stability float64
	SpeedMPS  float64
}

// TripRecord is the bookkeeping record of one ingested trip: enough to
// answer "has this trip already been ingested" and to support replays.
type TripRecord struct {
	TripID         string
	UserID         string
	IngestedAt     time.Time
	DetectionCount int
}

// TripStore persists trip bookkeeping and supports idempotent re-ingest:
// replacing a previously stored trip's detections when the same
// trip_id is ingested again.
type TripStore interface {
	// PutTrip records (or replaces) a trip and its derived detections,
	// roughness segments, in a single logical unit. Replacing a trip
	// discards its previously stored detections.
	PutTrip(ctx context.Context, trip TripRecord, detections []DetectionRecord, segments []roughness.Segment) error

	// GetTrip returns the bookkeeping record for tripID, or
	// (TripRecord{}, false, nil) if it has never been ingested.
	GetTrip(ctx context.Context, tripID string) (TripRecord, bool, error)
}

// DetectionQuery narrows a QueryDetections call.
type DetectionQuery struct {
	TripID string
	UserID string
	Since  time.Time
	Limit  int
}

// DetectionStore retrieves individual detections, independent of
// whether they have been folded into a cluster yet.
type DetectionStore interface {
	QueryDetections(ctx context.Context, q DetectionQuery) ([]DetectionRecord, error)
}

// ClusterQuery narrows a QueryClusters call.
type ClusterQuery struct {
	// Dashboard, when true, additionally applies the 66th-percentile
	// confidence filter (with floor) over the matched cluster set.
	Dashboard bool
	Limit     int
}

// ClusterStore supplies the full detection set that clusters are
// recomputed from on each query; it neither computes nor caches clusters.
type ClusterStore interface {
	// AllDetections returns every detection currently stored, for
	// cluster recomputation.
	AllDetections(ctx context.Context) ([]DetectionRecord, error)
}

// RoughnessStore retrieves the road-quality segments computed
// alongside a trip's detections. Segments never gate detection or
// clustering; they are an independent read path.
type RoughnessStore interface {
	// QueryRoughnessSegments returns the stored segments for tripID, or
	// an empty slice if the trip has never been ingested.
	QueryRoughnessSegments(ctx context.Context, tripID string) ([]roughness.Segment, error)
}

// ToMember adapts a stored detection into the cluster package's Member
// shape.
func ToMember(d DetectionRecord) cluster.Member {
	return cluster.Member{
		DetectionID: d.ID,
		UserID:      d.UserID,
		WallTime:    d.WallTime,
		Lat:         d.Lat,
		Lon:         d.Lon,
		Intensity:   d.Intensity,
		Stability:   d.Stability,
	}
}

// FromEvent adapts a detector event plus a generated ID into a
// persistable DetectionRecord.
func FromEvent(id string, e detect.Event) DetectionRecord {
	return DetectionRecord{
		ID:        id,
		TripID:    e.TripID,
		UserID:    e.UserID,
		WallTime:  e.WallTime,
		Lat:       e.Lat,
		Lon:       e.Lon,
		Intensity: e.Intensity,
		Stability: e.Stability,
		SpeedMPS:  e.SpeedMPS,
	}
}
