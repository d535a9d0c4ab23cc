// Package memstore is an in-process TripStore/DetectionStore/ClusterStore
// adapter, suitable for tests and small single-process deployments.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/relabs-tech/roadsense/internal/roughness"
	"github.com/relabs-tech/roadsense/internal/store"
)

// Store holds all trips, detections, and roughness segments in memory,
// guarded by a single RWMutex. It implements store.TripStore,
// store.DetectionStore, and store.ClusterStore.
type Store struct {
	mu         sync.RWMutex
	trips      map[string]store.TripRecord
	detections map[string][]store.DetectionRecord // keyed by trip ID
	segments   map[string][]roughness.Segment      // keyed by trip ID
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		trips:      make(map[string]store.TripRecord),
		detections: make(map[string][]store.DetectionRecord),
		segments:   make(map[string][]roughness.Segment),
	}
}

// PutTrip replaces any previously stored detections/segments for the
// same trip ID, implementing idempotent re-ingest.
func (s *Store) PutTrip(ctx context.Context, trip store.TripRecord, detections []store.DetectionRecord, segments []roughness.Segment) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trips[trip.TripID] = trip
	s.detections[trip.TripID] = detections
	s.segments[trip.TripID] = segments
	return nil
}

func (s *Store) GetTrip(ctx context.Context, tripID string) (store.TripRecord, bool, error) {
	if ctx.Err() != nil {
		return store.TripRecord{}, false, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.trips[tripID]
	return rec, ok, nil
}

// QueryDetections filters the union of all stored detections by
// TripID/UserID/Since, applying Limit last.
func (s *Store) QueryDetections(ctx context.Context, q store.DetectionQuery) ([]store.DetectionRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []store.DetectionRecord
	for tripID, dets := range s.detections {
		if q.TripID != "" && q.TripID != tripID {
			continue
		}
		for _, d := range dets {
			if q.UserID != "" && d.UserID != q.UserID {
				continue
			}
			if !q.Since.IsZero() && d.WallTime.Before(q.Since) {
				continue
			}
			matched = append(matched, d)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].WallTime.Before(matched[j].WallTime) })

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// AllDetections returns every stored detection, for cluster recomputation.
func (s *Store) AllDetections(ctx context.Context) ([]store.DetectionRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []store.DetectionRecord
	for _, dets := range s.detections {
		all = append(all, dets...)
	}
	return all, nil
}

// QueryRoughnessSegments returns the stored segments for tripID.
func (s *Store) QueryRoughnessSegments(ctx context.Context, tripID string) ([]roughness.Segment, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]roughness.Segment(nil), s.segments[tripID]...), nil
}
