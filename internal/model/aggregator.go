package model

// Aggregator defines the common interface of the flow aggregation engine.
type Aggregator interface {
	// Ingest folds a single packet into the live and historical tables.
	Ingest(record PacketRecord)

	// Snapshot folds both tables into the four output collections.
	Snapshot() Snapshot
}
