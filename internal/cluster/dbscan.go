package cluster

import "math"

// point is the minimal spatial input DBSCAN needs: a location. Its index
// in the points slice matches the index of the source detection.
type point struct {
	lat, lon float64
}

const (
	unvisited  = -2
	noiseLabel = -1
)

// dbscan runs DBSCAN over points using haversine distance, with epsM and
// minPts as named by the caller. It returns a label per point: -1 for
// noise, else a zero-based cluster index. The grid index only narrows
// the candidate set scanned per point; every inclusion decision below
// uses the exact haversine distance against epsM, so grid-cell sizing
// can only affect performance, never which points end up in a cluster.
func dbscan(points []point, epsM float64, minPts int) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	g := newGrid(points, epsM)
	nextCluster := 0

	for i := range points {
		if labels[i] != unvisited {
			continue
		}

		neighbors := regionQuery(points, g, i, epsM)
		if len(neighbors) < minPts {
			labels[i] = noiseLabel
			continue
		}

		labels[i] = nextCluster
		seeds := append([]int(nil), neighbors...)

		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == noiseLabel {
				labels[j] = nextCluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = nextCluster

			jNeighbors := regionQuery(points, g, j, epsM)
			if len(jNeighbors) >= minPts {
				seeds = append(seeds, jNeighbors...)
			}
		}

		nextCluster++
	}

	return labels
}

// regionQuery returns the indices of all points within epsM (haversine)
// of points[i], including i itself, using the grid only to narrow the
// candidate set considered.
func regionQuery(points []point, g *grid, i int, epsM float64) []int {
	candidates := g.neighborCells(points[i].lat, points[i].lon)

	var result []int
	for _, j := range candidates {
		if haversineM(points[i].lat, points[i].lon, points[j].lat, points[j].lon) <= epsM {
			result = append(result, j)
		}
	}
	return result
}

// haversineM returns the great-circle distance, in metres, between two
// WGS-84 points. DBSCAN never uses raw euclidean distance on degrees:
// doing so would distort distances by a factor that varies with
// latitude and direction, silently shifting eps.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}
