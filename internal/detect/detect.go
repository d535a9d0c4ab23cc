// Package detect implements the per-trip bump detector: sensor fusion,
// robust z-score outlier detection over vertical acceleration, and
// gyro-jitter stability gating, producing debounced detection events.
package detect

import (
	"context"
	"math"
	"time"

	"github.com/relabs-tech/roadsense/internal/errs"
	"github.com/relabs-tech/roadsense/internal/telemetry"
)

// Event is one confirmed bump: a location + timestamp + intensity +
// stability tuple, emitted in strict wall_time order.
type Event struct {
	TripID    string
	UserID    string
	WallTime  time.Time
	Lat       float64
	Lon       float64
	Intensity float64
	Stability float64
	SpeedMPS  float64
}

// fusedRow is one gyro-paced row, possibly accel-augmented per spec §4.2.1.
type fusedRow struct {
	sample   telemetry.Sample
	accel    telemetry.Vector3
	hasAccel bool
	position *telemetry.Position
}

type candidate struct {
	row       int
	wallTime  time.Time
	intensity float64
}

// Detect runs the fusion, vertical-axis, stability, robust z-score,
// candidate-gating, and debounce steps of spec §4.2 over one normalized
// trip, returning the debounced detection events in strict wall_time
// order. A trip that produces zero detections is a valid outcome, not an
// error.
func Detect(ctx context.Context, trip *telemetry.Trip, params Params) ([]Event, error) {
	if ctx.Err() != nil {
		return nil, errs.ErrProcessingTimeout
	}

	rows := fuse(trip.Samples, params)

	vertical, ok := verticalAxis(rows, params)
	if !ok {
		// Constant-gravity baseline missing: no usable orientation.
		return nil, nil
	}

	av := verticalAcceleration(rows, vertical)

	stability := stabilitySeries(rows, params)

	candidates := findCandidates(ctx, rows, av, stability, params)
	if len(candidates) == 0 {
		return nil, nil
	}

	debounced := debounce(candidates, params.DebounceWindow)

	events := make([]Event, 0, len(debounced))
	for _, c := range debounced {
		row := rows[c.row]
		events = append(events, Event{
			TripID:    trip.TripID,
			UserID:    trip.UserID,
			WallTime:  row.sample.WallTime,
			Lat:       row.position.Lat,
			Lon:       row.position.Lon,
			Intensity: c.intensity,
			Stability: stability[c.row],
			SpeedMPS:  row.position.SpeedMPS,
		})
	}

	return events, nil
}

// fuse attaches the most recent accel reading (if within
// params.FusionStaleness by uptime) and the most recent position fix (if
// within params.PositionStaleness) to every sample.
func fuse(samples []telemetry.Sample, params Params) []fusedRow {
	rows := make([]fusedRow, len(samples))

	var lastAccel telemetry.Vector3
	var lastAccelUptime int64
	haveAccel := false

	var lastPosition telemetry.Position
	var lastPositionUptime int64
	havePosition := false

	fusionStalenessMS := params.FusionStaleness.Milliseconds()
	positionStalenessMS := params.PositionStaleness.Milliseconds()

	for i, s := range samples {
		if s.Accel != nil {
			lastAccel = *s.Accel
			lastAccelUptime = s.UptimeMS
			haveAccel = true
		}
		if s.Position != nil {
			lastPosition = *s.Position
			lastPositionUptime = s.UptimeMS
			havePosition = true
		}

		row := fusedRow{sample: s}

		if haveAccel && s.UptimeMS-lastAccelUptime <= fusionStalenessMS {
			row.accel = lastAccel
			row.hasAccel = true
		}

		if havePosition && s.UptimeMS-lastPositionUptime <= positionStalenessMS {
			pos := lastPosition
			row.position = &pos
		}

		rows[i] = row
	}

	return rows
}

// verticalAxis estimates gravity direction as the mean of all fused
// accel vectors. ok is false if there are no accel-bearing rows or the
// mean's norm is below params.MinGravity (no usable orientation).
func verticalAxis(rows []fusedRow, params Params) (telemetry.Vector3, bool) {
	var sum telemetry.Vector3
	n := 0
	for _, r := range rows {
		if !r.hasAccel {
			continue
		}
		sum = sum.Add(r.accel)
		n++
	}
	if n == 0 {
		return telemetry.Vector3{}, false
	}

	mean := sum.Scale(1 / float64(n))
	norm := mean.Norm()
	if norm < params.MinGravity {
		return telemetry.Vector3{}, false
	}

	return mean.Scale(1 / norm), true
}

// verticalAcceleration projects each accel-bearing row onto the vertical
// axis and zero-centers the result over the trip. Rows without accel get
// NaN-free zero (they are excluded from candidate evaluation elsewhere
// via hasAccel).
func verticalAcceleration(rows []fusedRow, vertical telemetry.Vector3) []float64 {
	raw := make([]float64, len(rows))
	var sum float64
	n := 0
	for i, r := range rows {
		if !r.hasAccel {
			continue
		}
		raw[i] = r.accel.Dot(vertical)
		sum += raw[i]
		n++
	}
	if n == 0 {
		return raw
	}
	mean := sum / float64(n)

	av := make([]float64, len(rows))
	for i, r := range rows {
		if !r.hasAccel {
			continue
		}
		av[i] = raw[i] - mean
	}
	return av
}

// stabilitySeries computes, for every row, exp(-k * jitter) where jitter
// is the trailing-window (by uptime) average of gyro norm.
func stabilitySeries(rows []fusedRow, params Params) []float64 {
	windowMS := params.StabilityWindow.Milliseconds()
	stability := make([]float64, len(rows))

	var sum float64
	start := 0
	for i, r := range rows {
		sum += r.sample.Gyro.Norm()
		for rows[start].sample.UptimeMS < r.sample.UptimeMS-windowMS {
			sum -= rows[start].sample.Gyro.Norm()
			start++
		}
		count := i - start + 1
		jitter := sum / float64(count)

		s := math.Exp(-params.StabilityK * jitter)
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		stability[i] = s
	}
	return stability
}

// findCandidates walks accel-bearing rows, maintaining a trailing
// MADWindow of a_v values, and gates each row against spec §4.2 step 5.
func findCandidates(ctx context.Context, rows []fusedRow, av, stability []float64, params Params) []candidate {
	windowMS := params.MADWindow.Milliseconds()

	var candidates []candidate
	var windowIdx []int // indices into rows/av of accel-bearing rows in the trailing window
	wStart := 0

	for i, r := range rows {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil
		}
		if !r.hasAccel {
			continue
		}

		windowIdx = append(windowIdx, i)
		for rows[windowIdx[wStart]].sample.UptimeMS < r.sample.UptimeMS-windowMS {
			wStart++
		}

		active := windowIdx[wStart:]
		if len(active) < params.MinWindowSamples {
			continue
		}

		values := make([]float64, len(active))
		for j, idx := range active {
			values[j] = av[idx]
		}
		median, mad := medianAndMAD(values)
		z := math.Abs(av[i]-median) / (1.4826*mad + params.Epsilon)

		if z < params.ZThreshold {
			continue
		}
		if stability[i] < params.StabilityThreshold {
			continue
		}
		if r.position == nil || r.position.AccuracyM > params.AccuracyThreshold {
			continue
		}
		if r.position.SpeedMPS < params.SpeedThreshold {
			continue
		}

		candidates = append(candidates, candidate{
			row:       i,
			wallTime:  r.sample.WallTime,
			intensity: z,
		})
	}

	return candidates
}

// debounce groups candidates into windows of DebounceWindow duration,
// keeps the highest-intensity candidate from each group as the emitted
// event, and then suppresses any remaining candidate within window of
// that emitted event before starting the next group. This matches spec
// §4.2 step 6: "emit the first, then suppress any further candidate
// within 0.7 seconds of the last emitted event ... when multiple
// candidates fall in one window, emit the one with largest z". The
// suppression pass must re-anchor to the emitted candidate's own
// wallTime, not the group's first raw candidate, or a late high-z
// candidate can leave the next emission less than window apart.
func debounce(candidates []candidate, window time.Duration) []candidate {
	var result []candidate
	i := 0
	for i < len(candidates) {
		groupStart := candidates[i].wallTime
		best := candidates[i]
		j := i + 1
		for j < len(candidates) && candidates[j].wallTime.Sub(groupStart) < window {
			if candidates[j].intensity > best.intensity {
				best = candidates[j]
			}
			j++
		}
		result = append(result, best)

		for j < len(candidates) && candidates[j].wallTime.Sub(best.wallTime) < window {
			j++
		}
		i = j
	}
	return result
}
