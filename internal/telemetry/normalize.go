package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/relabs-tech/roadsense/internal/errs"
)

// MinGyroSamples is the minimum number of gyro-bearing samples a trip must
// carry to be usable; trips below this are InvalidTrip.
const MinGyroSamples = 50

// MaxWallTimeRegression is how far wall_time may jump backward before the
// offending sample is dropped (clock adjustments notwithstanding).
const MaxWallTimeRegression = 5 * time.Second

// tripDocument mirrors the wire-shaped JSON trip document from spec §6.1.
type tripDocument struct {
	UserID      string           `json:"user_id"`
	TripID      string           `json:"trip_id"`
	StartTime   string           `json:"start_time"`
	EndTime     string           `json:"end_time"`
	SampleCount int              `json:"sample_count"`
	Samples     []sampleDocument `json:"samples"`
}

type sampleDocument struct {
	Timestamp json.RawMessage `json:"timestamp"`
	UptimeMS  int64           `json:"uptime_ms"`
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	AccuracyM *float64        `json:"accuracy_m"`
	SpeedMPS  *float64        `json:"speed_mps"`
	Accel     []float64       `json:"accel"`
	Gyro      []float64       `json:"gyro"`
}

// Normalize parses one trip document into a validated, uptime-ordered
// Trip. It fails with errs.ErrInvalidTrip if user_id/trip_id are
// missing, samples is empty, or fewer than MinGyroSamples survive
// validation.
func Normalize(doc []byte) (*Trip, error) {
	var raw tripDocument
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode trip document: %v", errs.ErrInvalidTrip, err)
	}

	if raw.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", errs.ErrInvalidTrip)
	}
	if raw.TripID == "" {
		return nil, fmt.Errorf("%w: missing trip_id", errs.ErrInvalidTrip)
	}
	if len(raw.Samples) == 0 {
		return nil, fmt.Errorf("%w: trip %s has no samples", errs.ErrInvalidTrip, raw.TripID)
	}

	samples := make([]Sample, 0, len(raw.Samples))
	var maxUptime int64
	haveMax := false
	var lastWallTime time.Time
	haveWallTime := false

	for i, sd := range raw.Samples {
		s, ok, err := normalizeSample(sd)
		if err != nil {
			return nil, fmt.Errorf("%w: trip %s sample %d: %v", errs.ErrInvalidTrip, raw.TripID, i, err)
		}
		if !ok {
			// gyro could not be salvaged; drop the sample entirely.
			continue
		}

		// One-pass monotonic filter: drop samples whose uptime regresses
		// with respect to the running max. This is a filter, not a sort.
		if haveMax && s.UptimeMS < maxUptime {
			continue
		}

		// Drop samples with a wall-clock regression of more than 5s.
		if haveWallTime && lastWallTime.Sub(s.WallTime) > MaxWallTimeRegression {
			continue
		}

		maxUptime = s.UptimeMS
		haveMax = true
		lastWallTime = s.WallTime
		haveWallTime = true

		samples = append(samples, s)
	}

	// Every kept Sample carries a valid Gyro by construction (see
	// normalizeSample), so the usable-sample count is just len(samples).
	if len(samples) < MinGyroSamples {
		return nil, fmt.Errorf("%w: trip %s has %d usable samples, need %d",
			errs.ErrInvalidTrip, raw.TripID, len(samples), MinGyroSamples)
	}

	return &Trip{
		UserID:  raw.UserID,
		TripID:  raw.TripID,
		Samples: samples,
	}, nil
}

// normalizeSample converts one wire sample into a Sample. ok is false if
// the sample's gyro reading could not be salvaged (length != 3), meaning
// the whole sample must be dropped.
func normalizeSample(sd sampleDocument) (Sample, bool, error) {
	wallTime, err := parseTimestamp(sd.Timestamp)
	if err != nil {
		return Sample{}, false, err
	}

	gyro, ok := vectorFromSlice(sd.Gyro)
	if !ok {
		return Sample{}, false, nil
	}

	s := Sample{
		WallTime: wallTime,
		UptimeMS: sd.UptimeMS,
		Gyro:     gyro,
	}

	if accel, ok := vectorFromSlice(sd.Accel); ok {
		s.Accel = &accel
	}

	if pos, ok := positionFromFields(sd); ok {
		s.Position = &pos
	}

	return s, true, nil
}

func vectorFromSlice(v []float64) (Vector3, bool) {
	if len(v) != 3 {
		return Vector3{}, false
	}
	return Vector3{X: v[0], Y: v[1], Z: v[2]}, true
}

func positionFromFields(sd sampleDocument) (Position, bool) {
	if sd.Latitude == nil || sd.Longitude == nil {
		return Position{}, false
	}
	lat, lon := *sd.Latitude, *sd.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Position{}, false
	}

	pos := Position{Lat: lat, Lon: lon}
	if sd.AccuracyM != nil {
		pos.AccuracyM = *sd.AccuracyM
	}
	if sd.SpeedMPS != nil {
		pos.SpeedMPS = *sd.SpeedMPS
	}
	return pos, true
}

// parseTimestamp accepts either an ISO-8601 string or a millisecond
// integer, per spec §4.1.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		t, err := time.Parse(time.RFC3339Nano, asString)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", asString, err)
		}
		return t.UTC(), nil
	}

	var asMillis int64
	if err := json.Unmarshal(raw, &asMillis); err == nil {
		return time.UnixMilli(asMillis).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("timestamp neither ISO-8601 string nor integer: %s", raw)
}
