package manager

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/engine/aggregator"
	"PacketRadar/internal/metrics"
	"PacketRadar/internal/model"
	"PacketRadar/internal/snapshot"
)

// Listener is called with every snapshot the manager takes.
type Listener func(snap model.Snapshot)

// Options carries the optional collaborators of a Manager.
type Options struct {
	Metrics *metrics.Exporter
	Writers []model.Writer
}

// Manager runs the ingest worker pool, the snapshot ticker and the export writers
// around a single aggregation engine.
type Manager struct {
	agg     *aggregator.Aggregator
	store   *snapshot.Store
	metrics *metrics.Exporter
	writers []model.Writer

	listenersMu sync.RWMutex
	listeners   []Listener

	// Worker pool for concurrent packet processing
	packetChannel chan model.PacketRecord
	numWorkers    int
	workerWg      sync.WaitGroup

	interval      time.Duration
	snapshotMu    sync.Mutex
	done          chan struct{}
	snapshotterWg sync.WaitGroup
	writersDone   chan struct{}
	writerWg      sync.WaitGroup

	running  atomic.Bool
	stopOnce sync.Once

	// inputMu guards closing packetChannel against concurrent Submit calls.
	inputMu     sync.RWMutex
	inputClosed bool
}

// NewManager creates a new Manager around agg. Snapshots are published to store.
func NewManager(cfg config.AggregatorConfig, agg *aggregator.Aggregator, store *snapshot.Store, opts Options) *Manager {
	interval := cfg.SnapshotEvery()
	if interval <= 0 {
		interval = time.Second
	}
	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.SizeOfPacketChannel
	if size < 0 {
		size = 0
	}
	if store == nil {
		store = snapshot.NewStore()
	}

	return &Manager{
		agg:           agg,
		store:         store,
		metrics:       opts.Metrics,
		writers:       opts.Writers,
		packetChannel: make(chan model.PacketRecord, size),
		numWorkers:    workers,
		interval:      interval,
		done:          make(chan struct{}),
		writersDone:   make(chan struct{}),
	}
}

// OnSnapshot registers a listener. Listeners run on the snapshot goroutine
// and must not block.
func (m *Manager) OnSnapshot(fn Listener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Store returns the store the manager publishes to.
func (m *Manager) Store() *snapshot.Store {
	return m.store
}

// Aggregator returns the engine.
func (m *Manager) Aggregator() *aggregator.Aggregator {
	return m.agg
}

// Running reports whether the manager has been started and not yet stopped.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// Start begins the packet processing workers, the snapshotter and one loop per writer.
func (m *Manager) Start() {
	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker()
	}

	m.snapshotterWg.Add(1)
	go m.runSnapshotter()
	log.Printf("Started snapshotter with interval %s", m.interval)

	for _, w := range m.writers {
		m.writerWg.Add(1)
		go m.runWriter(w)
		log.Printf("Started writer loop with interval %s.", w.GetInterval())
	}

	m.running.Store(true)
	log.Printf("Manager started with %d workers.", m.numWorkers)
}

// InputChannel exposes the ingest queue for producers that prefer to block
// rather than drop.
func (m *Manager) InputChannel() chan<- model.PacketRecord {
	return m.packetChannel
}

// Submit queues a record without blocking. It reports false and counts a
// drop when the queue is full. Records submitted after Stop are rejected.
func (m *Manager) Submit(rec model.PacketRecord) bool {
	m.inputMu.RLock()
	defer m.inputMu.RUnlock()
	if m.inputClosed {
		return false
	}

	select {
	case m.packetChannel <- rec:
		return true
	default:
		if m.metrics != nil {
			m.metrics.IncDropped()
		}
		return false
	}
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for rec := range m.packetChannel {
		m.agg.Ingest(rec)
	}
}

func (m *Manager) runSnapshotter() {
	defer m.snapshotterWg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.TakeSnapshot()
		case <-m.done:
			m.TakeSnapshot()
			return
		}
	}
}

// TakeSnapshot runs one snapshot pass, publishes it and notifies listeners.
// Calls are serialized; the engine expects a single snapshot consumer.
func (m *Manager) TakeSnapshot() model.Snapshot {
	m.snapshotMu.Lock()
	defer m.snapshotMu.Unlock()

	start := time.Now()
	snap := m.agg.Snapshot()
	took := time.Since(start)

	m.store.Set(snap)
	if m.metrics != nil {
		m.metrics.ObserveSnapshot(took, m.agg.FlowCount(), m.agg.HistoryCount(), m.agg.Stats())
	}

	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

// runWriter exports the latest snapshot on the writer's own interval. It
// never triggers a snapshot itself, since a snapshot advances rate decay.
func (m *Manager) runWriter(w model.Writer) {
	defer m.writerWg.Done()
	interval := w.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer, writer loop will not run.", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.export(w)
		case <-m.writersDone:
			m.export(w)
			return
		}
	}
}

func (m *Manager) export(w model.Writer) {
	snap, ok := m.store.Latest()
	if !ok {
		return
	}
	timestamp := snap.TakenAt.Format(snapshot.TimestampFormat)
	if err := w.Write(snap, timestamp); err != nil {
		log.Printf("Error writing snapshot %s: %v", timestamp, err)
	}
}

// Stop gracefully shuts down the manager. Buffered packets are ingested and
// one final snapshot is taken and exported before it returns.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		log.Println("Manager stopping...")
		m.running.Store(false)

		// 1. Stop accepting new packets and drain the queue.
		m.inputMu.Lock()
		m.inputClosed = true
		close(m.packetChannel)
		m.inputMu.Unlock()
		log.Println("Waiting for workers to finish...")
		m.workerWg.Wait()

		// 2. Final snapshot.
		close(m.done)
		m.snapshotterWg.Wait()

		// 3. Final export, then release the sinks.
		close(m.writersDone)
		m.writerWg.Wait()
		for _, w := range m.writers {
			if err := w.Close(); err != nil {
				log.Printf("Error closing writer: %v", err)
			}
		}

		log.Println("Manager stopped.")
	})
}
