package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/roadsense/internal/detect"
	"github.com/relabs-tech/roadsense/internal/store/memstore"
)

func buildTripDoc(t *testing.T, n int) []byte {
	t.Helper()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	samples := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		z := 9.81
		if i == n/2 {
			z += 40
		}
		samples = append(samples, map[string]interface{}{
			"timestamp":  base.Add(time.Duration(i) * 10 * time.Millisecond).Format(time.RFC3339Nano),
			"uptime_ms":  int64(i * 10),
			"latitude":   37.0 + float64(i)*1e-6,
			"longitude":  -122.0,
			"accuracy_m": 5.0,
			"speed_mps":  10.0,
			"accel":      []float64{0, 0, z},
			"gyro":       []float64{0, 0, 0},
		})
	}

	doc := map[string]interface{}{
		"user_id": "user-1",
		"trip_id": "trip-1",
		"samples": samples,
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func TestIngest_NormalizesDetectsAndPersists(t *testing.T) {
	trips := memstore.New()
	p := New(trips, 2, 10*time.Second, detect.DefaultParams())

	doc := buildTripDoc(t, 600)
	result, err := p.Ingest(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "trip-1", result.TripID)
	assert.Equal(t, 1, result.DetectionCount)

	rec, ok, err := trips.GetTrip(context.Background(), "trip-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rec.DetectionCount)
}

func TestIngest_ReingestSameTripReplacesDetections(t *testing.T) {
	trips := memstore.New()
	p := New(trips, 2, 10*time.Second, detect.DefaultParams())
	ctx := context.Background()

	doc := buildTripDoc(t, 600)
	_, err := p.Ingest(ctx, doc)
	require.NoError(t, err)

	_, err = p.Ingest(ctx, doc)
	require.NoError(t, err)

	all, err := trips.AllDetections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngest_InvalidTripReturnsError(t *testing.T) {
	trips := memstore.New()
	p := New(trips, 2, 10*time.Second, detect.DefaultParams())

	_, err := p.Ingest(context.Background(), []byte(`{"user_id":"u"}`))
	assert.Error(t, err)
}

func TestIngest_ConcurrentTripsDoNotBlockEachOther(t *testing.T) {
	trips := memstore.New()
	p := New(trips, 4, 10*time.Second, detect.DefaultParams())
	ctx := context.Background()

	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func(i int) {
			doc := buildTripDoc(t, 600)
			var m map[string]interface{}
			_ = json.Unmarshal(doc, &m)
			m["trip_id"] = "trip-concurrent"
			b, _ := json.Marshal(m)
			_, err := p.Ingest(ctx, b)
			errs <- err
		}(i)
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, <-errs)
	}
}
