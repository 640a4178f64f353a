package factory

import (
	"errors"
	"testing"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/model"

	"github.com/stretchr/testify/require"
)

type stubWriter struct{ interval time.Duration }

func (s *stubWriter) Write(model.Snapshot, string) error { return nil }
func (s *stubWriter) GetInterval() time.Duration { return s.interval }
func (s *stubWriter) Close() error { return nil }

func init() {
	RegisterWriter("stub", func(_ config.WriterDef, interval time.Duration) (model.Writer, error) {
		return &stubWriter{interval: interval}, nil
	})
	RegisterWriter("broken", func(config.WriterDef, time.Duration) (model.Writer, error) {
		return nil, errors.New("unreachable")
	})
}

func TestCreateWriters(t *testing.T) {
	writers := CreateWriters([]config.WriterDef{
		{Type: "stub", Enabled: true, SnapshotInterval: "10s"},
		{Type: "stub", Enabled: false, SnapshotInterval: "10s"},
		{Type: "stub", Enabled: true, SnapshotInterval: "never"},
		{Type: "stub", Enabled: true, SnapshotInterval: "0s"},
		{Type: "missing", Enabled: true, SnapshotInterval: "10s"},
		{Type: "broken", Enabled: true, SnapshotInterval: "10s"},
	})
	require.Len(t, writers, 1)
	require.Equal(t, 10*time.Second, writers[0].GetInterval())
}

func TestRegisterWriterTwicePanics(t *testing.T) {
	require.Panics(t, func() {
		RegisterWriter("stub", nil)
	})
	require.Contains(t, Types(), "stub")
}
