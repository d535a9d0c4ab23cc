// Package api exposes Ingest/QueryClusters/QueryDetections over HTTP,
// plus a websocket push of newly-ingested-trip notifications to connected
// dashboards.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/relabs-tech/roadsense/internal/cluster"
	"github.com/relabs-tech/roadsense/internal/errs"
	"github.com/relabs-tech/roadsense/internal/ingest"
	"github.com/relabs-tech/roadsense/internal/score"
	"github.com/relabs-tech/roadsense/internal/store"
)

// Server wires the ingest pipeline and stores to HTTP handlers and a
// websocket broadcast hub.
type Server struct {
	pipeline   *ingest.Pipeline
	detections store.DetectionStore
	clusters   store.ClusterStore
	roughness  store.RoughnessStore
	clusterCfg cluster.Params
	hub        *Hub
	now        func() time.Time
}

// NewServer builds a Server. Its now field is set to time.Now; it is a
// field so that tests in this package can replace the clock.
func NewServer(pipeline *ingest.Pipeline, detections store.DetectionStore, clusters store.ClusterStore, roughness store.RoughnessStore, clusterCfg cluster.Params) *Server {
	return &Server{
		pipeline:   pipeline,
		detections: detections,
		clusters:   clusters,
		roughness:  roughness,
		clusterCfg: clusterCfg,
		hub:        NewHub(),
		now:        time.Now,
	}
}

// Routes registers the server's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /trips", s.handleIngest)
	mux.HandleFunc("GET /clusters", s.handleQueryClusters)
	mux.HandleFunc("GET /detections", s.handleQueryDetections)
	mux.HandleFunc("GET /roughness", s.handleQueryRoughness)
	mux.HandleFunc("GET /ws", s.hub.HandleWS)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: read body: %v", errs.ErrInvalidTrip, err))
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), doc)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.hub.Broadcast(map[string]interface{}{
		"type":            "trip_ingested",
		"trip_id":         result.TripID,
		"detection_count": result.DetectionCount,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trip_id":         result.TripID,
		"detection_count": result.DetectionCount,
	})
}

func (s *Server) handleQueryClusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	minConfidence := 0.0
	if v := q.Get("min_confidence"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: min_confidence must be in [0,1]", errs.ErrInvalidQuery))
			return
		}
		minConfidence = parsed
	}

	limit := 1000
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be >= 1", errs.ErrInvalidQuery))
			return
		}
		limit = parsed
	}

	dashboard := q.Get("dashboard") == "true"

	clusterParams := s.clusterCfg
	if v := q.Get("eps_m"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: eps_m must be > 0", errs.ErrInvalidQuery))
			return
		}
		clusterParams.EpsM = parsed
	}

	detections, err := s.clusters.AllDetections(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err))
		return
	}

	members := make([]cluster.Member, len(detections))
	for i, d := range detections {
		members[i] = store.ToMember(d)
	}
	clusters := cluster.Aggregate(members, clusterParams)

	now := s.now()
	scores := score.ForAll(clusters, now)
	if dashboard {
		scores = score.DashboardFilter(scores)
	}

	scoreByID := make(map[string]score.Score, len(scores))
	for _, sc := range scores {
		scoreByID[sc.ClusterID] = sc
	}

	summaries := make([]clusterSummary, 0, len(clusters))
	for _, c := range clusters {
		sc, ok := scoreByID[c.ID]
		if !ok || sc.Confidence < minConfidence {
			continue
		}
		summaries = append(summaries, toSummary(c, sc))
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Priority > summaries[j].Priority })
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleQueryDetections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 1000
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be >= 1", errs.ErrInvalidQuery))
			return
		}
		limit = parsed
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: offset must be >= 0", errs.ErrInvalidQuery))
			return
		}
		offset = parsed
	}

	detections, err := s.detections.QueryDetections(r.Context(), store.DetectionQuery{})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err))
		return
	}

	sort.Slice(detections, func(i, j int) bool { return detections[i].WallTime.After(detections[j].WallTime) })

	if offset >= len(detections) {
		writeJSON(w, http.StatusOK, []store.DetectionRecord{})
		return
	}
	end := offset + limit
	if end > len(detections) {
		end = len(detections)
	}

	writeJSON(w, http.StatusOK, detections[offset:end])
}

func (s *Server) handleQueryRoughness(w http.ResponseWriter, r *http.Request) {
	tripID := r.URL.Query().Get("trip_id")
	if tripID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: trip_id is required", errs.ErrInvalidQuery))
		return
	}

	segments, err := s.roughness.QueryRoughnessSegments(r.Context(), tripID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err))
		return
	}

	writeJSON(w, http.StatusOK, segments)
}

type clusterSummary struct {
	ClusterID    string    `json:"cluster_id"`
	CentroidLat  float64   `json:"centroid_lat"`
	CentroidLon  float64   `json:"centroid_lon"`
	HitCount     int       `json:"hit_count"`
	UserCount    int       `json:"user_count"`
	LastSeen     time.Time `json:"last_seen"`
	AvgIntensity float64   `json:"avg_intensity"`
	AvgStability float64   `json:"avg_stability"`
	Confidence   float64   `json:"confidence"`
	Priority     float64   `json:"priority"`
	Likelihood   string    `json:"likelihood"`
}

func toSummary(c cluster.Cluster, sc score.Score) clusterSummary {
	return clusterSummary{
		ClusterID:    c.ID,
		CentroidLat:  c.CentroidLat,
		CentroidLon:  c.CentroidLon,
		HitCount:     c.HitCount,
		UserCount:    c.UserCount,
		LastSeen:     c.LastSeen,
		AvgIntensity: c.AvgIntensity,
		AvgStability: c.AvgStability,
		Confidence:   sc.Confidence,
		Priority:     sc.Priority,
		Likelihood:   string(sc.Likelihood),
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidTrip), errors.Is(err, errs.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrProcessingTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
