// Package cluster aggregates per-trip detections into stable spatial
// clusters via DBSCAN over great-circle distance, narrowed to candidate
// neighbors by an equirectangular-projection grid index so the search
// stays sub-quadratic at scale.
package cluster

import "math"

// cellSizeM is the grid cell edge length. It is sized to eps so any
// point within eps of a given point falls in the same or an adjacent
// cell, never farther.
type grid struct {
	cellSizeM   float64
	refLat      float64
	cosRefLat   float64
	cells       map[cellKey][]int
}

type cellKey struct {
	x, y int64
}

const earthRadiusM = 6371008.8

// newGrid builds a grid index over points, projecting lat/lon to local
// metres via an equirectangular projection. The longitude scale factor
// cosRefLat is pinned to the cosine of the point set's most extreme
// (largest-magnitude) latitude rather than its mean: cos is monotonically
// decreasing in |lat|, so this is a lower bound on cos(lat) for every
// point in the set. That keeps projected east-west distances everywhere
// less than or equal to their true distances, no matter how far the set
// spans — so a grid-cell gap can only ever be conservative (pulling in
// extra, farther-apart candidates) and can never place two points that
// are truly within cellSizeM farther apart than cellSizeM in projected
// space. Cells can cover a wide true-distance range when the set spans
// many latitudes (a performance cost), but the final membership test is
// always the exact haversine distance (see dbscan.go), so that cost
// never changes which points end up in a cluster.
func newGrid(points []point, cellSizeM float64) *grid {
	refLat := maxAbsLat(points)
	g := &grid{
		cellSizeM: cellSizeM,
		refLat:    refLat,
		cosRefLat: math.Cos(refLat * math.Pi / 180),
		cells:     make(map[cellKey][]int),
	}
	for i, p := range points {
		k := g.keyFor(p.lat, p.lon)
		g.cells[k] = append(g.cells[k], i)
	}
	return g
}

// maxAbsLat returns the largest-magnitude latitude among points, the
// latitude at which cos(lat) is smallest (and so the longitude scale
// factor most conservative) across the set.
func maxAbsLat(points []point) float64 {
	var max float64
	for _, p := range points {
		if abs := math.Abs(p.lat); abs > max {
			max = abs
		}
	}
	return max
}

// projectM converts an absolute lat/lon into approximate (x, y) metres,
// scaling longitude by the grid's cosRefLat.
func (g *grid) projectM(lat, lon float64) (x, y float64) {
	x = (lon) * (math.Pi / 180) * earthRadiusM * g.cosRefLat
	y = (lat) * (math.Pi / 180) * earthRadiusM
	return x, y
}

func (g *grid) keyFor(lat, lon float64) cellKey {
	x, y := g.projectM(lat, lon)
	return cellKey{
		x: int64(math.Floor(x / g.cellSizeM)),
		y: int64(math.Floor(y / g.cellSizeM)),
	}
}

// neighborCells returns the indices of points in the 3x3 block of cells
// centered on (lat, lon): candidates that might be within cellSizeM of
// the query point.
func (g *grid) neighborCells(lat, lon float64) []int {
	center := g.keyFor(lat, lon)
	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			k := cellKey{x: center.x + dx, y: center.y + dy}
			out = append(out, g.cells[k]...)
		}
	}
	return out
}
