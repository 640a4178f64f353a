// Package projection folds the engine's internal state into the row and map
// point collections consumed by presentation. Everything here is pure.
package projection

import (
	"fmt"
	"sort"

	"PacketRadar/internal/engine/classify"
	"PacketRadar/internal/model"
)

const (
	DefaultMaxLiveRows    = 100
	DefaultMaxHistoryRows = 200

	unknownOrg = "(unknown)"
)

// LiveItem is one surviving live flow after a snapshot pass.
type LiveItem struct {
	Process  string
	Dest     string
	Port     uint16
	Protocol model.Protocol
	Bps      int64
}

// HistItem is the cumulative state of one destination.
type HistItem struct {
	Dest       string
	TotalBytes int64
	FlowCount  int64
	Processes  []string
}

type liveGroupKey struct {
	process  string
	dest     string
	port     uint16
	protocol model.Protocol
}

// LiveRows groups items by (process, dest, port, protocol), summing their
// rate, and returns the limit fastest groups.
func LiveRows(items []LiveItem, limit int) []model.LiveRow {
	index := make(map[liveGroupKey]int, len(items))
	rows := make([]model.LiveRow, 0, len(items))
	for _, it := range items {
		k := liveGroupKey{it.Process, it.Dest, it.Port, it.Protocol}
		if i, ok := index[k]; ok {
			rows[i].BytesPerSecond += it.Bps
			rows[i].FlowCount++
			continue
		}
		index[k] = len(rows)
		rows = append(rows, model.LiveRow{
			Process:        it.Process,
			Dest:           it.Dest,
			Port:           it.Port,
			Protocol:       it.Protocol,
			BytesPerSecond: it.Bps,
			FlowCount:      1,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.BytesPerSecond != b.BytesPerSecond {
			return a.BytesPerSecond > b.BytesPerSecond
		}
		if a.Dest != b.Dest {
			return a.Dest < b.Dest
		}
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		if a.Process != b.Process {
			return a.Process < b.Process
		}
		return a.Protocol < b.Protocol
	})
	return truncate(rows, limit)
}

// LivePoints groups items by destination only, keeps public destinations the
// geo lookup knows about, and emits one point per destination.
func LivePoints(items []LiveItem, geo model.GeoLookup) []model.MapPoint {
	type group struct {
		bps   int64
		count int64
	}
	groups := make(map[string]*group)
	var order []string
	for _, it := range items {
		g, ok := groups[it.Dest]
		if !ok {
			g = &group{}
			groups[it.Dest] = g
			order = append(order, it.Dest)
		}
		g.bps += it.Bps
		g.count++
	}

	points := make([]model.MapPoint, 0, len(order))
	for _, ip := range order {
		if !classify.IsPublic(ip) {
			continue
		}
		info, ok := lookup(geo, ip)
		if !ok {
			continue
		}
		g := groups[ip]
		label := fmt.Sprintf("%s (LIVE)\nIP: %s\nCountry: %s\nFlows: %d\nThroughput: %s/s",
			info.Org, ip, info.Country, g.count, classify.FormatBytes(g.bps))
		points = append(points, model.MapPoint{
			IP:       ip,
			Lat:      info.Lat,
			Lon:      info.Lon,
			Bytes:    g.bps,
			Count:    g.count,
			ColorKey: colorKey(info.Org, ip),
			Label:    label,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Bytes != points[j].Bytes {
			return points[i].Bytes > points[j].Bytes
		}
		return points[i].IP < points[j].IP
	})
	return points
}

// HistoryRows renders every public destination, most packets first. A
// destination without geo data still gets a row with blank fields.
func HistoryRows(items []HistItem, geo model.GeoLookup, limit int) []model.HistRow {
	rows := make([]model.HistRow, 0, len(items))
	for _, it := range items {
		if !classify.IsPublic(it.Dest) {
			continue
		}
		info, _ := lookup(geo, it.Dest)
		org := info.Org
		if org == "" {
			org = unknownOrg
		}
		rows = append(rows, model.HistRow{
			Org:        org,
			Dest:       it.Dest,
			Country:    info.Country,
			Protocol:   "-",
			Bytes:      classify.FormatBytes(it.TotalBytes),
			Count:      it.FlowCount,
			TotalBytes: it.TotalBytes,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Dest < rows[j].Dest
	})
	return truncate(rows, limit)
}

// HistoryPoints emits one point per public destination with geo data.
func HistoryPoints(items []HistItem, geo model.GeoLookup) []model.MapPoint {
	points := make([]model.MapPoint, 0, len(items))
	for _, it := range items {
		if !classify.IsPublic(it.Dest) {
			continue
		}
		info, ok := lookup(geo, it.Dest)
		if !ok {
			continue
		}
		label := fmt.Sprintf("%s\nIP: %s\nCountry: %s\nFlows: %d\nAccumulated: %s",
			info.Org, it.Dest, info.Country, it.FlowCount, classify.FormatBytes(it.TotalBytes))
		points = append(points, model.MapPoint{
			IP:       it.Dest,
			Lat:      info.Lat,
			Lon:      info.Lon,
			Bytes:    it.TotalBytes,
			Count:    it.FlowCount,
			ColorKey: colorKey(info.Org, it.Dest),
			Label:    label,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Count != points[j].Count {
			return points[i].Count > points[j].Count
		}
		return points[i].IP < points[j].IP
	})
	return points
}

func lookup(geo model.GeoLookup, ip string) (model.GeoInfo, bool) {
	if geo == nil {
		return model.GeoInfo{}, false
	}
	return geo.Lookup(ip)
}

func colorKey(org, ip string) string {
	if org == "" {
		return ip
	}
	return org
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
