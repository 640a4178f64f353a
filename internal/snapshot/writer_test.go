package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/factory"
	"PacketRadar/internal/model"

	"github.com/stretchr/testify/require"
)

func sampleSnapshot() model.Snapshot {
	return model.Snapshot{
		TakenAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Live: []model.LiveRow{
			{Process: "curl", Dest: "8.8.8.8", Port: 443, Protocol: model.ProtocolTCP, BytesPerSecond: 400, FlowCount: 2},
			{Process: "dig", Dest: "1.1.1.1", Port: 53, Protocol: model.ProtocolUDP, BytesPerSecond: 40, FlowCount: 1},
		},
		History: []model.HistRow{
			{Org: "15169 GOOGLE", Dest: "8.8.8.8", Country: "US", Protocol: "-", Bytes: "1.0 KB", Count: 12},
		},
		LivePoints: []model.MapPoint{
			{IP: "8.8.8.8", Lat: 37.751, Lon: -97.822, Bytes: 400, Count: 2, ColorKey: "15169 GOOGLE", Label: "x"},
		},
	}
}

func TestFileWriter_Write(t *testing.T) {
	root := t.TempDir()
	w := NewFileWriter(root, true, time.Minute)
	require.Equal(t, time.Minute, w.GetInterval())

	snap := sampleSnapshot()
	require.NoError(t, w.Write(snap, "2024-05-01_12-00-00"))
	require.NoError(t, w.Close())

	dir := filepath.Join(root, "2024-05-01_12-00-00")

	data, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	require.NoError(t, err)
	var decoded model.Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, snap.Live, decoded.Live)
	require.Equal(t, snap.History, decoded.History)
	require.Contains(t, string(data), `"colorKey": "15169 GOOGLE"`)

	data, err = os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var summary SummaryData
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Equal(t, 2, summary.LiveRows)
	require.Equal(t, 3, summary.LiveFlows)
	require.Equal(t, int64(440), summary.LiveBytesPerS)
	require.Equal(t, int64(12), summary.TotalHistCount)
	require.Equal(t, "2024-05-01T12:00:00Z", summary.TakenAt)

	fromGob, err := ReadGob(filepath.Join(dir, "snapshot.gob"))
	require.NoError(t, err)
	require.Equal(t, snap.LivePoints, fromGob.LivePoints)
}

func TestFileWriterWithoutGob(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, NewFileWriter(root, false, time.Minute).Write(sampleSnapshot(), "ts"))
	_, err := os.Stat(filepath.Join(root, "ts", "snapshot.gob"))
	require.True(t, os.IsNotExist(err))
}

func TestFileWriterRegistered(t *testing.T) {
	writers := factory.CreateWriters([]config.WriterDef{{
		Type:             "file",
		Enabled:          true,
		SnapshotInterval: "30s",
		File:             config.FileConfig{RootPath: t.TempDir()},
	}})
	require.Len(t, writers, 1)
	require.Equal(t, 30*time.Second, writers[0].GetInterval())
}

func TestStore(t *testing.T) {
	s := NewStore()
	_, ok := s.Latest()
	require.False(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Set(sampleSnapshot())
			s.Latest()
		}()
	}
	wg.Wait()

	got, ok := s.Latest()
	require.True(t, ok)
	require.Len(t, got.Live, 2)
}
