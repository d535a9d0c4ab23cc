// Package ingest turns an uploaded trip document into stored detections:
// normalize, detect, score roughness, and persist, all behind a bounded
// worker pool so many trips can be processed concurrently without the
// caller's goroutine count growing unbounded.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"

	"github.com/relabs-tech/roadsense/internal/detect"
	"github.com/relabs-tech/roadsense/internal/errs"
	"github.com/relabs-tech/roadsense/internal/roughness"
	"github.com/relabs-tech/roadsense/internal/store"
	"github.com/relabs-tech/roadsense/internal/telemetry"
)

// Result is what Ingest returns on success: the external contract named
// in spec §6.2, `{trip_id, detection_count}`.
type Result struct {
	TripID         string
	DetectionCount int
}

// Pipeline normalizes, detects, scores, and persists trip documents. A
// single Pipeline's worker pool is shared across all calls to Ingest, so
// many trips from many requests can be processed concurrently; each
// individual Ingest call still blocks until its own trip is fully
// processed, matching the synchronous external contract.
type Pipeline struct {
	trips   store.TripStore
	pool    *pond.WorkerPool
	params  detect.Params
	timeout time.Duration
}

// New builds a Pipeline with workers CPU-bound goroutines and the given
// per-trip processing timeout.
func New(trips store.TripStore, workers int, timeout time.Duration, params detect.Params) *Pipeline {
	return &Pipeline{
		trips:   trips,
		pool:    pond.New(workers, 0, pond.MinWorkers(workers)),
		params:  params,
		timeout: timeout,
	}
}

// Stop drains and shuts down the worker pool. Call once, at shutdown.
func (p *Pipeline) Stop() {
	p.pool.StopAndWait()
}

// Ingest normalizes doc, runs detection and roughness scoring, persists
// the result, and returns the trip_id/detection_count pair. The work
// itself runs on the pipeline's worker pool so other in-flight Ingest
// calls are not blocked waiting on this CPU-bound trip, but this call
// blocks until its own trip finishes (or the context/timeout fires).
func (p *Pipeline) Ingest(ctx context.Context, doc []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	p.pool.Submit(func() {
		result, err := p.process(ctx, doc)
		done <- outcome{result, err}
	})

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", errs.ErrProcessingTimeout, ctx.Err())
	}
}

func (p *Pipeline) process(ctx context.Context, doc []byte) (Result, error) {
	trip, err := telemetry.Normalize(doc)
	if err != nil {
		return Result{}, err
	}

	events, err := detect.Detect(ctx, trip, p.params)
	if err != nil {
		return Result{}, err
	}

	segments := roughness.Compute(trip)

	detections := make([]store.DetectionRecord, len(events))
	for i, e := range events {
		detections[i] = store.FromEvent(uuid.NewString(), e)
	}

	record := store.TripRecord{
		TripID:         trip.TripID,
		UserID:         trip.UserID,
		IngestedAt:     time.Now().UTC(),
		DetectionCount: len(detections),
	}

	if err := p.trips.PutTrip(ctx, record, detections, segments); err != nil {
		return Result{}, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}

	return Result{TripID: trip.TripID, DetectionCount: len(detections)}, nil
}
