package model

import "time"

// Writer defines a generic interface for exporting snapshots to an external sink.
type Writer interface {
	// Write exports one snapshot. timestamp is the formatted snapshot time.
	Write(snapshot Snapshot, timestamp string) error

	// GetInterval returns the configured export interval for this writer.
	GetInterval() time.Duration

	// Close releases any resources held by the writer.
	Close() error
}
