// Package clickhouse exports snapshots into ClickHouse tables.
package clickhouse

import (
	"context"
	"fmt"
	"log"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/factory"
	"PacketRadar/internal/model"
	"PacketRadar/internal/snapshot"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS destination_history (
    Timestamp  DateTime,
    Org        String,
    DstIP      String,
    Country    String,
    TotalBytes UInt64,
    Packets    UInt64
) ENGINE = ReplacingMergeTree(Timestamp)
ORDER BY DstIP;
`

const createLiveTable = `
CREATE TABLE IF NOT EXISTS live_flows (
    Timestamp      DateTime,
    Process        String,
    DstIP          String,
    DstPort        UInt16,
    Protocol       LowCardinality(String),
    BytesPerSecond UInt64,
    Flows          UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, DstIP);
`

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewWriter(def.ClickHouse, interval)
	})
}

// Writer implements the model.Writer interface for ClickHouse.
type Writer struct {
	conn     driver.Conn
	interval time.Duration
}

// NewWriter connects and makes sure both tables exist.
func NewWriter(cfg config.ClickHouseConfig, interval time.Duration) (*Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createHistoryTable, createLiveTable} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")

	return &Writer{conn: conn, interval: interval}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *Writer) GetInterval() time.Duration {
	return w.interval
}

// Close closes the connection.
func (w *Writer) Close() error {
	return w.conn.Close()
}

// Write inserts the history and live tables of one snapshot.
func (w *Writer) Write(snap model.Snapshot, timestamp string) error {
	ts := snapshotTime(snap, timestamp)
	ctx := context.Background()

	if rows := historyRows(snap, ts); len(rows) > 0 {
		if err := w.insert(ctx, "INSERT INTO destination_history", rows); err != nil {
			return err
		}
	}
	if rows := liveRows(snap, ts); len(rows) > 0 {
		if err := w.insert(ctx, "INSERT INTO live_flows", rows); err != nil {
			return err
		}
	}

	log.Printf("Wrote %d destinations and %d live rows to ClickHouse.", len(snap.History), len(snap.Live))
	return nil
}

func (w *Writer) insert(ctx context.Context, query string, rows [][]any) error {
	batch, err := w.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func snapshotTime(snap model.Snapshot, timestamp string) time.Time {
	if !snap.TakenAt.IsZero() {
		return snap.TakenAt
	}
	if ts, err := time.Parse(snapshot.TimestampFormat, timestamp); err == nil {
		return ts
	}
	return time.Now()
}

func historyRows(snap model.Snapshot, ts time.Time) [][]any {
	rows := make([][]any, 0, len(snap.History))
	for _, h := range snap.History {
		rows = append(rows, []any{ts, h.Org, h.Dest, h.Country, uint64(h.TotalBytes), uint64(h.Count)})
	}
	return rows
}

func liveRows(snap model.Snapshot, ts time.Time) [][]any {
	rows := make([][]any, 0, len(snap.Live))
	for _, l := range snap.Live {
		rows = append(rows, []any{ts, l.Process, l.Dest, l.Port, string(l.Protocol), uint64(l.BytesPerSecond), uint32(l.FlowCount)})
	}
	return rows
}
