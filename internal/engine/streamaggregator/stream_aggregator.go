package streamaggregator

import (
	"log"
	"sync/atomic"

	"PacketRadar/internal/engine/manager"
	"PacketRadar/internal/model"
	"PacketRadar/internal/probe"
)

// Source delivers decoded records to a handler until closed.
type Source interface {
	Start(handler probe.PacketHandler) error
	Close()
}

// StreamAggregator feeds records from a Source into a Manager.
type StreamAggregator struct {
	source   Source
	manager  *manager.Manager
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewStreamAggregator wires src to mgr.
func NewStreamAggregator(src Source, mgr *manager.Manager) *StreamAggregator {
	return &StreamAggregator{source: src, manager: mgr}
}

// Start starts the manager and begins consuming.
func (sa *StreamAggregator) Start() error {
	log.Println("StreamAggregator starting...")
	sa.manager.Start()
	if err := sa.source.Start(sa.handlePacket); err != nil {
		sa.manager.Stop()
		return err
	}
	return nil
}

// Stop closes the source first so that no record arrives after the manager
// has closed its queue.
func (sa *StreamAggregator) Stop() {
	log.Println("StreamAggregator stopping...")
	sa.source.Close()
	sa.manager.Stop()
	log.Printf("StreamAggregator stopped after %d records, %d dropped.", sa.received.Load(), sa.dropped.Load())
}

// Received returns the number of records handed over so far.
func (sa *StreamAggregator) Received() uint64 {
	return sa.received.Load()
}

func (sa *StreamAggregator) handlePacket(rec model.PacketRecord) {
	sa.received.Add(1)
	if !sa.manager.Submit(rec) {
		sa.dropped.Add(1)
	}
}
