package aggregator

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PacketRadar/internal/geo"
	"PacketRadar/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type namer map[int32]string

func (n namer) Name(pid int32) string { return n[pid] }

type countingNamer struct{ calls atomic.Int32 }

func (c *countingNamer) Name(pid int32) string {
	c.calls.Add(1)
	return "worker"
}

var testGeo = geo.NewCache(geo.Static{
	"8.8.8.8":     {Lat: 37.751, Lon: -97.822, Country: "US", Org: "15169 GOOGLE"},
	"10.0.0.5":    {Lat: 1, Lon: 1, Country: "ZZ", Org: "lan"},
	"192.168.1.1": {Lat: 1, Lon: 1, Country: "ZZ", Org: "lan"},
	"127.0.0.1":   {Lat: 1, Lon: 1, Country: "ZZ", Org: "lo"},
})

func newTestAggregator(ttl time.Duration, procs model.ProcessResolver) (*Aggregator, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	agg := New(Config{TTL: ttl}, testGeo, procs)
	agg.now = clk.Now
	return agg, clk
}

func packet(pid int32, dst string, port uint16, proto model.Protocol, size int) model.PacketRecord {
	return model.PacketRecord{
		Timestamp: time.Now(),
		PID:       pid,
		Protocol:  proto,
		SrcIP:     netip.MustParseAddr("192.168.1.10"),
		SrcPort:   50000,
		DstIP:     netip.MustParseAddr(dst),
		DstPort:   port,
		Size:      size,
	}
}

func TestNewClampsTTL(t *testing.T) {
	require.Equal(t, time.Second, New(Config{}, nil, nil).TTL())
	require.Equal(t, time.Second, New(Config{TTL: -3 * time.Second}, nil, nil).TTL())
	require.Equal(t, time.Second, New(Config{TTL: 200 * time.Millisecond}, nil, nil).TTL())
	require.Equal(t, 30*time.Second, New(Config{TTL: 30 * time.Second}, nil, nil).TTL())
}

func TestSnapshotResetsWindowAndDecays(t *testing.T) {
	agg, _ := newTestAggregator(5*time.Second, namer{42: "curl"})
	p := packet(42, "8.8.8.8", 443, model.ProtocolTCP, 1000)
	agg.Ingest(p)

	snap := agg.Snapshot()
	require.Len(t, snap.Live, 1)
	require.Equal(t, model.LiveRow{
		Process:        "curl",
		Dest:           "8.8.8.8",
		Port:           443,
		Protocol:       model.ProtocolTCP,
		BytesPerSecond: 400,
		FlowCount:      1,
	}, snap.Live[0])

	st, ok := agg.Flow(model.KeyOf(p))
	require.True(t, ok)
	require.Zero(t, st.WindowBytes)
	require.Equal(t, int64(1000), st.TotalBytes)

	snap = agg.Snapshot()
	require.Equal(t, int64(240), snap.Live[0].BytesPerSecond)

	agg.Snapshot()
	st, _ = agg.Flow(model.KeyOf(p))
	require.InDelta(t, 144.0, st.EmaBps, 1e-9)
	require.Zero(t, st.WindowBytes)
}

func TestIdleFlowEvictedAfterTTL(t *testing.T) {
	agg, clk := newTestAggregator(time.Second, namer{7: "dig"})
	agg.Ingest(packet(7, "8.8.8.8", 53, model.ProtocolUDP, 1))

	// Young flows survive regardless of rate.
	snap := agg.Snapshot()
	require.Len(t, snap.Live, 1)
	require.Zero(t, snap.Live[0].BytesPerSecond)

	clk.Advance(2 * time.Second)
	snap = agg.Snapshot()
	require.Empty(t, snap.Live)
	require.Empty(t, snap.LivePoints)
	require.Zero(t, agg.FlowCount())
	require.Equal(t, uint64(1), agg.Stats().Evictions)

	// History is untouched by eviction.
	require.Len(t, snap.History, 1)
	require.Equal(t, int64(1), snap.History[0].Count)
}

func TestBusyFlowOutlivesTTLUntilRateDecays(t *testing.T) {
	agg, clk := newTestAggregator(time.Second, nil)
	agg.Ingest(packet(9, "8.8.8.8", 443, model.ProtocolTCP, 1000))

	// ema after n snapshots is 400*0.6^(n-1); it first drops to <= 1 on the 13th.
	for i := 1; i <= 12; i++ {
		clk.Advance(10 * time.Second)
		agg.Snapshot()
		require.Equal(t, 1, agg.FlowCount(), "snapshot %d", i)
	}
	clk.Advance(10 * time.Second)
	snap := agg.Snapshot()
	require.Zero(t, agg.FlowCount())
	require.Empty(t, snap.Live)
}

func TestActivityRefreshesLastSeen(t *testing.T) {
	agg, clk := newTestAggregator(time.Second, nil)
	p := packet(9, "8.8.8.8", 443, model.ProtocolTCP, 1)
	agg.Ingest(p)

	for i := 0; i < 5; i++ {
		clk.Advance(900 * time.Millisecond)
		agg.Ingest(p)
		agg.Snapshot()
		require.Equal(t, 1, agg.FlowCount())
	}

	st, ok := agg.Flow(model.KeyOf(p))
	require.True(t, ok)
	require.Equal(t, clk.Now(), st.LastSeen)
	require.Equal(t, int64(6), st.TotalBytes)
}

func TestHistoryIsMonotonic(t *testing.T) {
	agg, clk := newTestAggregator(time.Second, namer{1: "Chrome", 2: "chrome", 3: "curl"})
	agg.Ingest(packet(1, "8.8.8.8", 443, model.ProtocolTCP, 100))
	agg.Ingest(packet(2, "8.8.8.8", 443, model.ProtocolTCP, 200))
	agg.Ingest(packet(3, "8.8.8.8", 53, model.ProtocolUDP, 300))
	agg.Ingest(packet(3, "8.8.8.8", 53, model.ProtocolUDP, 400))

	for i := 0; i < 20; i++ {
		clk.Advance(5 * time.Second)
		agg.Snapshot()
	}
	require.Zero(t, agg.FlowCount())

	d, ok := agg.Destination("8.8.8.8")
	require.True(t, ok)
	require.Equal(t, int64(1000), d.TotalBytes)
	require.Equal(t, int64(4), d.FlowCount)
	require.Equal(t, []string{"Chrome", "curl"}, d.Processes)

	snap := agg.Snapshot()
	require.Equal(t, []model.HistRow{{
		Org:        "15169 GOOGLE",
		Dest:       "8.8.8.8",
		Country:    "US",
		Protocol:   "-",
		Bytes:      "1000.0 B",
		Count:      4,
		TotalBytes: 1000,
	}}, snap.History)
	require.Len(t, snap.HistoryPoints, 1)
	require.Equal(t, int64(1000), snap.HistoryPoints[0].Bytes)
	require.Equal(t, 1, agg.HistoryCount())
}

func TestPrivateDestinationsNeverMapped(t *testing.T) {
	agg, _ := newTestAggregator(5*time.Second, nil)
	for _, dst := range []string{"10.0.0.5", "192.168.1.1", "127.0.0.1", "8.8.8.8"} {
		agg.Ingest(packet(5, dst, 80, model.ProtocolTCP, 500))
	}

	snap := agg.Snapshot()
	require.Len(t, snap.LivePoints, 1)
	require.Equal(t, "8.8.8.8", snap.LivePoints[0].IP)
	require.Len(t, snap.HistoryPoints, 1)
	require.Equal(t, "8.8.8.8", snap.HistoryPoints[0].IP)
	require.Len(t, snap.History, 1)
	require.Equal(t, "8.8.8.8", snap.History[0].Dest)

	// The ranked live table lists every flow, private or not.
	require.Len(t, snap.Live, 4)
	require.Equal(t, 4, agg.HistoryCount())
}

func TestLiveRowsGroupAcrossPids(t *testing.T) {
	agg, _ := newTestAggregator(5*time.Second, namer{1: "firefox", 2: "firefox"})
	agg.Ingest(packet(1, "8.8.8.8", 443, model.ProtocolTCP, 1000))
	agg.Ingest(packet(2, "8.8.8.8", 443, model.ProtocolTCP, 1000))

	snap := agg.Snapshot()
	require.Len(t, snap.Live, 1)
	require.Equal(t, 2, snap.Live[0].FlowCount)
	require.Equal(t, int64(800), snap.Live[0].BytesPerSecond)
	require.Equal(t, int64(2), snap.LivePoints[0].Count)
}

func TestProcessNameResolvedOncePerFlow(t *testing.T) {
	procs := &countingNamer{}
	agg, _ := newTestAggregator(5*time.Second, procs)
	for i := 0; i < 10; i++ {
		agg.Ingest(packet(77, "8.8.8.8", 443, model.ProtocolTCP, 10))
	}
	require.Equal(t, int32(1), procs.calls.Load())

	st, ok := agg.Flow(model.FlowKey{PID: 77, DstIP: "8.8.8.8", DstPort: 443, Protocol: model.ProtocolTCP})
	require.True(t, ok)
	require.Equal(t, "worker", st.ProcessName)
}

func TestUnresolvedProcessFallsBackToPid(t *testing.T) {
	agg, _ := newTestAggregator(5*time.Second, namer{})
	agg.Ingest(packet(1234, "8.8.8.8", 443, model.ProtocolTCP, 10))

	snap := agg.Snapshot()
	require.Equal(t, "PID 1234", snap.Live[0].Process)
}

func TestInvalidDestinationCountedUnderSentinel(t *testing.T) {
	agg, _ := newTestAggregator(5*time.Second, nil)
	agg.Ingest(model.PacketRecord{PID: 1, Protocol: model.ProtocolUDP, DstPort: 9, Size: 64})

	d, ok := agg.Destination("0.0.0.0")
	require.True(t, ok)
	require.Equal(t, int64(64), d.TotalBytes)

	snap := agg.Snapshot()
	require.Len(t, snap.Live, 1)
	require.Equal(t, "0.0.0.0", snap.Live[0].Dest)
	require.Len(t, snap.History, 1)
	require.Equal(t, "(unknown)", snap.History[0].Org)
	require.Empty(t, snap.HistoryPoints)
}

func TestConcurrentIngestLosesNothing(t *testing.T) {
	const producers = 1000
	agg, _ := newTestAggregator(5*time.Second, namer{3: "sync"})
	p := packet(3, "8.8.8.8", 443, model.ProtocolTCP, 100)

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			agg.Ingest(p)
		}()
	}
	wg.Wait()

	st, ok := agg.Flow(model.KeyOf(p))
	require.True(t, ok)
	require.Equal(t, int64(producers*100), st.WindowBytes)
	require.Equal(t, int64(producers*100), st.TotalBytes)

	d, _ := agg.Destination("8.8.8.8")
	require.Equal(t, int64(producers), d.FlowCount)
	require.Equal(t, uint64(producers), agg.Stats().Packets)

	snap := agg.Snapshot()
	require.Equal(t, int64(40000), snap.Live[0].BytesPerSecond)
}

func TestSnapshotConcurrentWithIngest(t *testing.T) {
	const (
		producers = 8
		perWorker = 2000
	)
	agg, _ := newTestAggregator(5*time.Second, nil)

	stop := make(chan struct{})
	snapshots := make(chan int)
	go func() {
		n := 0
		for {
			select {
			case <-stop:
				snapshots <- n
				return
			default:
				agg.Snapshot()
				n++
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(producers)
	for w := 0; w < producers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				agg.Ingest(packet(int32(w), "8.8.8.8", uint16(1000+i%4), model.ProtocolTCP, 10))
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	require.Positive(t, <-snapshots)

	d, ok := agg.Destination("8.8.8.8")
	require.True(t, ok)
	require.Equal(t, int64(producers*perWorker), d.FlowCount)
	require.Equal(t, int64(producers*perWorker*10), d.TotalBytes)

	var total int64
	for w := 0; w < producers; w++ {
		for port := uint16(1000); port < 1004; port++ {
			st, ok := agg.Flow(model.FlowKey{PID: int32(w), DstIP: "8.8.8.8", DstPort: port, Protocol: model.ProtocolTCP})
			require.True(t, ok)
			total += st.TotalBytes
		}
	}
	require.Equal(t, int64(producers*perWorker*10), total)
}
