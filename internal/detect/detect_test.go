package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/roadsense/internal/telemetry"
)

func flatTrip(t *testing.T, n int, hz float64) *telemetry.Trip {
	t.Helper()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	periodMS := int64(1000 / hz)

	samples := make([]telemetry.Sample, n)
	for i := 0; i < n; i++ {
		accel := telemetry.Vector3{X: 0, Y: 0, Z: 9.81}
		samples[i] = telemetry.Sample{
			WallTime: base.Add(time.Duration(i) * time.Duration(periodMS) * time.Millisecond),
			UptimeMS: int64(i) * periodMS,
			Accel:    &accel,
			Gyro:     telemetry.Vector3{X: 0, Y: 0, Z: 0},
			Position: &telemetry.Position{Lat: 37.0, Lon: -122.0, AccuracyM: 5, SpeedMPS: 10},
		}
	}
	return &telemetry.Trip{UserID: "user-1", TripID: "trip-1", Samples: samples}
}

func TestDetect_FlatTripNoDetections(t *testing.T) {
	trip := flatTrip(t, 600, 100)

	events, err := Detect(context.Background(), trip, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetect_SingleSharpBump(t *testing.T) {
	trip := flatTrip(t, 600, 100)
	bumpIdx := 300
	bump := telemetry.Vector3{X: 0, Y: 0, Z: 9.81 + 40}
	trip.Samples[bumpIdx].Accel = &bump

	events, err := Detect(context.Background(), trip, DefaultParams())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Greater(t, events[0].Intensity, DefaultParams().ZThreshold)
	assert.GreaterOrEqual(t, events[0].Stability, 0.9)
	assert.Equal(t, "trip-1", events[0].TripID)
}

func TestDetect_HandHeldPhoneSustainedJitterSuppressesDetection(t *testing.T) {
	trip := flatTrip(t, 600, 100)
	for i := range trip.Samples {
		trip.Samples[i].Gyro = telemetry.Vector3{X: 0, Y: 0, Z: 1.5}
	}
	bumpIdx := 300
	bump := telemetry.Vector3{X: 0, Y: 0, Z: 9.81 + 40}
	trip.Samples[bumpIdx].Accel = &bump

	events, err := Detect(context.Background(), trip, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetect_DebounceSuppressesCloseCandidates(t *testing.T) {
	trip := flatTrip(t, 1400, 100)
	// Bumps at uptime 12.0s, 12.3s, 13.0s (row index = seconds*100).
	big := telemetry.Vector3{X: 0, Y: 0, Z: 9.81 + 40}
	medium := telemetry.Vector3{X: 0, Y: 0, Z: 9.81 + 35}
	trip.Samples[1200].Accel = &big
	trip.Samples[1230].Accel = &medium
	trip.Samples[1300].Accel = &big

	events, err := Detect(context.Background(), trip, DefaultParams())
	require.NoError(t, err)
	require.Len(t, events, 2)

	base := trip.Samples[0].WallTime
	assert.InDelta(t, 12.0, events[0].WallTime.Sub(base).Seconds(), 0.05)
	assert.InDelta(t, 13.0, events[1].WallTime.Sub(base).Seconds(), 0.05)
}

func TestDebounce_ReanchorsOnEmittedEventNotFirstRawCandidate(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	candidates := []candidate{
		{row: 0, wallTime: base, intensity: 1},
		{row: 1, wallTime: base.Add(650 * time.Millisecond), intensity: 100},
		{row: 2, wallTime: base.Add(1200 * time.Millisecond), intensity: 1},
	}

	result := debounce(candidates, 700*time.Millisecond)

	require.Len(t, result, 1)
	assert.Equal(t, base.Add(650*time.Millisecond), result[0].wallTime)
}

func TestDetect_EventsStrictlyTimeOrderedAndSpaced(t *testing.T) {
	trip := flatTrip(t, 2000, 100)
	big := telemetry.Vector3{X: 0, Y: 0, Z: 9.81 + 40}
	for _, idx := range []int{500, 900, 1300, 1700} {
		b := big
		trip.Samples[idx].Accel = &b
	}

	events, err := Detect(context.Background(), trip, DefaultParams())
	require.NoError(t, err)
	require.True(t, len(events) >= 2)

	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].WallTime.After(events[i-1].WallTime))
		assert.GreaterOrEqual(t, events[i].WallTime.Sub(events[i-1].WallTime), DefaultParams().DebounceWindow)
	}
}

func TestDetect_EveryEventMeetsGateInvariants(t *testing.T) {
	trip := flatTrip(t, 600, 100)
	bump := telemetry.Vector3{X: 0, Y: 0, Z: 9.81 + 40}
	trip.Samples[300].Accel = &bump

	params := DefaultParams()
	events, err := Detect(context.Background(), trip, params)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.GreaterOrEqual(t, e.Intensity, params.ZThreshold)
	assert.GreaterOrEqual(t, e.SpeedMPS, params.SpeedThreshold)
	assert.GreaterOrEqual(t, e.Stability, params.StabilityThreshold)
	assert.NotZero(t, e.Lat)
	assert.NotZero(t, e.Lon)
}

func TestDetect_LowGravityYieldsNoDetectionsNotError(t *testing.T) {
	trip := flatTrip(t, 600, 100)
	for i := range trip.Samples {
		low := telemetry.Vector3{X: 0, Y: 0, Z: 1.0}
		trip.Samples[i].Accel = &low
	}

	events, err := Detect(context.Background(), trip, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetect_StaleGPSExcludesOtherwiseValidCandidate(t *testing.T) {
	trip := flatTrip(t, 600, 100)
	for i := 310; i < len(trip.Samples); i++ {
		trip.Samples[i].Position = nil
	}
	bump := telemetry.Vector3{X: 0, Y: 0, Z: 9.81 + 40}
	trip.Samples[550].Accel = &bump

	events, err := Detect(context.Background(), trip, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetect_ContextCanceledReturnsProcessingTimeout(t *testing.T) {
	trip := flatTrip(t, 600, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Detect(ctx, trip, DefaultParams())
	require.Error(t, err)
}
