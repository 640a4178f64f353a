// Package api serves the latest snapshot over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"PacketRadar/internal/metrics"
	"PacketRadar/internal/model"
	"PacketRadar/internal/snapshot"
	"PacketRadar/pkg/geomath"

	"github.com/gorilla/mux"
)

// Options configures a Server.
type Options struct {
	Home      geomath.LatLon
	PathSteps int
	Metrics   *metrics.Exporter
}

// Server holds the dependencies for API handlers.
type Server struct {
	store   *snapshot.Store
	home    geomath.LatLon
	steps   int
	metrics *metrics.Exporter
	hub     *Hub
	router  *mux.Router
}

// PointsPayload is the body of /api/points and of every WebSocket message.
type PointsPayload struct {
	Mode   string           `json:"mode"`
	Points []model.MapPoint `json:"points"`
}

// NewServer builds the router.
func NewServer(store *snapshot.Store, opts Options) *Server {
	if opts.PathSteps < 1 {
		opts.PathSteps = 1
	}
	s := &Server{
		store:   store,
		home:    opts.Home,
		steps:   opts.PathSteps,
		metrics: opts.Metrics,
		hub:     NewHub(store, opts.Metrics),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/api/live", s.liveHandler).Methods("GET")
	r.HandleFunc("/api/history", s.historyHandler).Methods("GET")
	r.HandleFunc("/api/points", s.pointsHandler).Methods("GET")
	r.HandleFunc("/api/geojson", s.geojsonHandler).Methods("GET")
	r.HandleFunc("/api/path/{ip}", s.pathHandler).Methods("GET")
	r.HandleFunc("/ws", s.hub.ServeWS).Methods("GET")
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub. Its Broadcast method is a manager listener.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	_, ok := s.store.Latest()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "snapshot": ok})
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.store.Latest()
	writeJSON(w, http.StatusOK, FilterLive(snap.Live, r.URL.Query().Get("q")))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.store.Latest()
	writeJSON(w, http.StatusOK, FilterHistory(snap.History, r.URL.Query().Get("q")))
}

func (s *Server) pointsHandler(w http.ResponseWriter, r *http.Request) {
	mode, ok := parseMode(r)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown mode '%s'", r.URL.Query().Get("mode")), http.StatusBadRequest)
		return
	}
	snap, _ := s.store.Latest()
	writeJSON(w, http.StatusOK, PointsPayload{Mode: mode, Points: nonNil(snap.Points(mode))})
}

func (s *Server) geojsonHandler(w http.ResponseWriter, r *http.Request) {
	mode, ok := parseMode(r)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown mode '%s'", r.URL.Query().Get("mode")), http.StatusBadRequest)
		return
	}
	snap, _ := s.store.Latest()
	body, err := PointsCollection(snap.Points(mode)).MarshalJSON()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) pathHandler(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	steps := s.steps
	if v := r.URL.Query().Get("steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid steps '%s'", v), http.StatusBadRequest)
			return
		}
		steps = n
	}

	snap, _ := s.store.Latest()
	p, ok := findPoint(snap, ip)
	if !ok {
		http.Error(w, fmt.Sprintf("no map point for '%s'", ip), http.StatusNotFound)
		return
	}

	body, err := PathFeature(s.home, p, steps).MarshalJSON()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// FilterLive keeps rows whose "process dest port protocol" contains q,
// ignoring case. An empty q keeps everything.
func FilterLive(rows []model.LiveRow, q string) []model.LiveRow {
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]model.LiveRow, 0, len(rows))
	for _, r := range rows {
		hay := fmt.Sprintf("%s %s %d %s", r.Process, r.Dest, r.Port, r.Protocol)
		if q == "" || strings.Contains(strings.ToLower(hay), q) {
			out = append(out, r)
		}
	}
	return out
}

// FilterHistory keeps rows whose "org dest country protocol" contains q,
// ignoring case. An empty q keeps everything.
func FilterHistory(rows []model.HistRow, q string) []model.HistRow {
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]model.HistRow, 0, len(rows))
	for _, r := range rows {
		hay := fmt.Sprintf("%s %s %s %s", r.Org, r.Dest, r.Country, r.Protocol)
		if q == "" || strings.Contains(strings.ToLower(hay), q) {
			out = append(out, r)
		}
	}
	return out
}

func findPoint(snap model.Snapshot, ip string) (model.MapPoint, bool) {
	for _, set := range [][]model.MapPoint{snap.LivePoints, snap.HistoryPoints} {
		for _, p := range set {
			if p.IP == ip {
				return p, true
			}
		}
	}
	return model.MapPoint{}, false
}

func parseMode(r *http.Request) (string, bool) {
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", model.ModeLive:
		return model.ModeLive, true
	case model.ModeHistory:
		return model.ModeHistory, true
	default:
		return "", false
	}
}

func nonNil(p []model.MapPoint) []model.MapPoint {
	if p == nil {
		return []model.MapPoint{}
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}
