// Package aggregator is the flow aggregation engine. Packets are folded into a
// live table keyed by flow and a cumulative table keyed by destination; a
// snapshot decays the live rates, evicts idle flows and projects both tables
// into rows and map points.
package aggregator

import (
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"PacketRadar/internal/engine/flowtable"
	"PacketRadar/internal/engine/projection"
	"PacketRadar/internal/model"
	"PacketRadar/internal/procname"
)

const (
	emaKeep   = 0.6
	emaWindow = 0.4
)

// Config holds the engine tuning knobs. Zero row caps and shard counts select
// the defaults; TTL is clamped to at least one second.
type Config struct {
	TTL            time.Duration
	MaxLiveRows    int
	MaxHistoryRows int
	Shards         uint32
}

// FlowState is the live accounting of one flow.
type FlowState struct {
	WindowBytes int64
	EmaBps      float64
	LastSeen    time.Time
	TotalBytes  int64
	ProcessName string
}

// DestinationStats is the cumulative accounting of one destination.
type DestinationStats struct {
	TotalBytes int64
	FlowCount  int64
	Processes  []string
}

type historyEntry struct {
	totalBytes int64
	flowCount  int64
	names      map[string]string // lower-cased -> first-seen casing
	order      []string
}

// Stats reports cumulative engine counters.
type Stats struct {
	Packets   uint64
	Bytes     uint64
	Evictions uint64
}

var _ model.Aggregator = (*Aggregator)(nil)

// Aggregator implements model.Aggregator.
type Aggregator struct {
	flows   *flowtable.Table[model.FlowKey, FlowState]
	history *flowtable.Table[string, historyEntry]

	geo   model.GeoLookup
	procs model.ProcessResolver

	ttl            time.Duration
	maxLiveRows    int
	maxHistoryRows int

	// now is the engine clock. Tests replace it.
	now func() time.Time

	packets   atomic.Uint64
	bytes     atomic.Uint64
	evictions atomic.Uint64
}

// New creates an engine. geo and procs may be nil, in which case no point is
// ever produced and every flow is labelled with its pid.
func New(cfg Config, geo model.GeoLookup, procs model.ProcessResolver) *Aggregator {
	ttl := cfg.TTL
	if ttl < time.Second {
		ttl = time.Second
	}
	if cfg.MaxLiveRows <= 0 {
		cfg.MaxLiveRows = projection.DefaultMaxLiveRows
	}
	if cfg.MaxHistoryRows <= 0 {
		cfg.MaxHistoryRows = projection.DefaultMaxHistoryRows
	}

	return &Aggregator{
		flows:          flowtable.New[model.FlowKey, FlowState](cfg.Shards, hashFlowKey),
		history:        flowtable.New[string, historyEntry](cfg.Shards, hashString),
		geo:            geo,
		procs:          procs,
		ttl:            ttl,
		maxLiveRows:    cfg.MaxLiveRows,
		maxHistoryRows: cfg.MaxHistoryRows,
		now:            time.Now,
	}
}

// TTL returns the effective idle timeout after clamping.
func (a *Aggregator) TTL() time.Duration {
	return a.ttl
}

// Ingest folds one packet into both tables. It is safe for concurrent use.
func (a *Aggregator) Ingest(p model.PacketRecord) {
	key := model.KeyOf(p)
	size := int64(p.Size)
	if size < 0 {
		size = 0
	}
	now := a.now()

	var name string
	a.flows.Update(key, func() FlowState { return FlowState{} }, func(st *FlowState) {
		st.WindowBytes += size
		st.TotalBytes += size
		st.LastSeen = now
		if st.ProcessName == "" {
			st.ProcessName = a.processName(key.PID)
		}
		name = st.ProcessName
	})

	a.history.Update(key.DstIP, newHistoryEntry, func(h *historyEntry) {
		h.totalBytes += size
		h.flowCount++
		h.addName(name)
	})

	a.packets.Add(1)
	a.bytes.Add(uint64(size))
}

func (a *Aggregator) processName(pid int32) string {
	if a.procs != nil {
		if n := a.procs.Name(pid); n != "" {
			return n
		}
	}
	return procname.Fallback(pid)
}

// Snapshot decays and evicts live flows, then projects both tables. It runs
// concurrently with Ingest and never blocks it for longer than one entry.
func (a *Aggregator) Snapshot() model.Snapshot {
	now := a.now()

	var live []projection.LiveItem
	evicted := a.flows.Visit(func(k model.FlowKey, st *FlowState) bool {
		window := st.WindowBytes
		st.WindowBytes = 0
		st.EmaBps = st.EmaBps*emaKeep + float64(window)*emaWindow

		if now.Sub(st.LastSeen) <= a.ttl || st.EmaBps > 1 {
			live = append(live, projection.LiveItem{
				Process:  st.ProcessName,
				Dest:     k.DstIP,
				Port:     k.DstPort,
				Protocol: k.Protocol,
				Bps:      int64(st.EmaBps),
			})
			return false
		}
		return true
	})
	a.evictions.Add(uint64(evicted))

	var hist []projection.HistItem
	a.history.Visit(func(ip string, h *historyEntry) bool {
		hist = append(hist, projection.HistItem{
			Dest:       ip,
			TotalBytes: h.totalBytes,
			FlowCount:  h.flowCount,
			Processes:  append([]string(nil), h.order...),
		})
		return false
	})

	return model.Snapshot{
		TakenAt:       now,
		Live:          projection.LiveRows(live, a.maxLiveRows),
		History:       projection.HistoryRows(hist, a.geo, a.maxHistoryRows),
		LivePoints:    projection.LivePoints(live, a.geo),
		HistoryPoints: projection.HistoryPoints(hist, a.geo),
	}
}

// FlowCount returns the number of live flows currently tracked.
func (a *Aggregator) FlowCount() int {
	return a.flows.Len()
}

// HistoryCount returns the number of destinations ever seen.
func (a *Aggregator) HistoryCount() int {
	return a.history.Len()
}

// Flow returns a copy of the state of one live flow.
func (a *Aggregator) Flow(key model.FlowKey) (FlowState, bool) {
	return a.flows.Get(key)
}

// Destination returns a copy of the cumulative state of one destination.
func (a *Aggregator) Destination(ip string) (DestinationStats, bool) {
	var (
		out   DestinationStats
		found bool
	)
	a.history.View(ip, func(h *historyEntry) {
		out = DestinationStats{
			TotalBytes: h.totalBytes,
			FlowCount:  h.flowCount,
			Processes:  append([]string(nil), h.order...),
		}
		found = true
	})
	return out, found
}

// Stats returns the cumulative counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Packets:   a.packets.Load(),
		Bytes:     a.bytes.Load(),
		Evictions: a.evictions.Load(),
	}
}

func newHistoryEntry() historyEntry {
	return historyEntry{names: make(map[string]string)}
}

func (h *historyEntry) addName(name string) {
	if name == "" {
		return
	}
	lower := strings.ToLower(name)
	if _, ok := h.names[lower]; ok {
		return
	}
	h.names[lower] = name
	h.order = append(h.order, name)
}

func hashFlowKey(k model.FlowKey) uint32 {
	h := fnv.New32a()
	h.Write([]byte(k.String()))
	return h.Sum32()
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
