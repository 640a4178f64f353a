package model

import "time"

// LiveRow is one row of the ranked live-flow table.
type LiveRow struct {
	Process        string   `json:"process"`
	Dest           string   `json:"dest"`
	Port           uint16   `json:"port"`
	Protocol       Protocol `json:"protocol"`
	BytesPerSecond int64    `json:"bytes_per_second"`
	FlowCount      int      `json:"flow_count"`
}

// HistRow is one row of the cumulative per-destination table. Bytes is the
// display form of TotalBytes.
type HistRow struct {
	Org        string `json:"org"`
	Dest       string `json:"dest"`
	Country    string `json:"country"`
	Protocol   string `json:"protocol"`
	Bytes      string `json:"bytes"`
	Count      int64  `json:"count"`
	TotalBytes int64  `json:"total_bytes"`
}

// MapPoint is a destination marker for the map view.
type MapPoint struct {
	IP       string  `json:"ip"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Bytes    int64   `json:"bytes"`
	Count    int64   `json:"count"`
	ColorKey string  `json:"colorKey"`
	Label    string  `json:"label"`
}

// Snapshot is the point-in-time output of the aggregation engine.
// It is built fresh on every call and never mutated afterwards.
type Snapshot struct {
	TakenAt       time.Time  `json:"taken_at"`
	Live          []LiveRow  `json:"live"`
	History       []HistRow  `json:"history"`
	LivePoints    []MapPoint `json:"live_points"`
	HistoryPoints []MapPoint `json:"history_points"`
}

// Points returns the map points for the given view mode ("live" or "history").
func (s Snapshot) Points(mode string) []MapPoint {
	if mode == ModeHistory {
		return s.HistoryPoints
	}
	return s.LivePoints
}

const (
	ModeLive    = "live"
	ModeHistory = "history"
)
