package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/factory"
	"PacketRadar/internal/model"
)

// TimestampFormat names snapshot directories.
const TimestampFormat = "2006-01-02_15-04-05"

func init() {
	factory.RegisterWriter("file", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewFileWriter(def.File.RootPath, def.File.Gob, interval), nil
	})
}

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	TakenAt        string `json:"taken_at"`
	LiveRows       int    `json:"live_rows"`
	LiveFlows      int    `json:"live_flows"`
	LiveBytesPerS  int64  `json:"live_bytes_per_second"`
	HistoryRows    int    `json:"history_rows"`
	LivePoints     int    `json:"live_points"`
	HistoryPoints  int    `json:"history_points"`
	TotalHistCount int64  `json:"total_history_packets"`
	Timestamp      string `json:"timestamp"`
}

// FileWriter writes each snapshot into its own timestamped directory.
// It implements the model.Writer interface.
type FileWriter struct {
	rootPath string
	gob      bool
	interval time.Duration
}

// NewFileWriter creates a new snapshot writer rooted at rootPath. When
// withGob is set a binary copy is written next to the JSON one.
func NewFileWriter(rootPath string, withGob bool, interval time.Duration) *FileWriter {
	return &FileWriter{rootPath: rootPath, gob: withGob, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *FileWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes one snapshot to <root>/<timestamp>/.
func (w *FileWriter) Write(snap model.Snapshot, timestamp string) error {
	dir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, "snapshot.json"), snap); err != nil {
		return err
	}
	if w.gob {
		if err := writeGob(filepath.Join(dir, "snapshot.gob"), snap); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, "summary.json"), Summarize(snap))
}

// Close implements model.Writer.
func (w *FileWriter) Close() error {
	return nil
}

// Summarize computes the summary record of a snapshot.
func Summarize(snap model.Snapshot) SummaryData {
	s := SummaryData{
		TakenAt:       snap.TakenAt.UTC().Format(time.RFC3339),
		LiveRows:      len(snap.Live),
		HistoryRows:   len(snap.History),
		LivePoints:    len(snap.LivePoints),
		HistoryPoints: len(snap.HistoryPoints),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	for _, r := range snap.Live {
		s.LiveFlows += r.FlowCount
		s.LiveBytesPerS += r.BytesPerSecond
	}
	for _, r := range snap.History {
		s.TotalHistCount += r.Count
	}
	return s
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode '%s' to json: %w", path, err)
	}
	return nil
}

func writeGob(path string, snap model.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode '%s' to gob: %w", path, err)
	}
	return nil
}

// ReadGob loads a snapshot written with the gob option.
func ReadGob(path string) (model.Snapshot, error) {
	var snap model.Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode '%s': %w", path, err)
	}
	return snap, nil
}
