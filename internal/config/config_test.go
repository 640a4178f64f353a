package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRepositoryConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, cfg.Aggregator.TTLDuration())
	require.Equal(t, time.Second, cfg.Aggregator.SnapshotEvery())
	require.Equal(t, 2*time.Second, cfg.Probe.PIDRefreshEvery())
	require.Equal(t, 90, cfg.Map.PathSteps)
	require.Len(t, cfg.Writers, 2)
	require.Equal(t, "file", cfg.Writers[0].Type)
	require.Equal(t, 9000, cfg.Writers[1].ClickHouse.Port)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("api:\n  listen_addr: \":9999\"\n"))
	require.NoError(t, err)

	require.Equal(t, ":9999", cfg.API.ListenAddr)
	require.Equal(t, ":9090", cfg.API.GRPCListenAddr)
	require.Equal(t, 5*time.Second, cfg.Aggregator.TTLDuration())
	require.Equal(t, 100, cfg.Aggregator.MaxLiveRows)
	require.Equal(t, 200, cfg.Aggregator.MaxHistoryRows)
	require.InDelta(t, 56.0, cfg.Map.HomeLat, 0)
	require.InDelta(t, 10.0, cfg.Map.HomeLon, 0)
}

func TestParseClampsOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "zero ttl",
			yaml: "aggregator:\n  ttl: \"0s\"\n",
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, time.Second, cfg.Aggregator.TTLDuration())
			},
		},
		{
			name: "negative ttl",
			yaml: "aggregator:\n  ttl: \"-10s\"\n",
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, time.Second, cfg.Aggregator.TTLDuration())
			},
		},
		{
			name: "non-positive workers and caps",
			yaml: "aggregator:\n  num_workers: -1\n  max_live_rows: 0\n  size_of_packet_channel: 0\n",
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 4, cfg.Aggregator.NumWorkers)
				require.Equal(t, 100, cfg.Aggregator.MaxLiveRows)
				require.Equal(t, 10000, cfg.Aggregator.SizeOfPacketChannel)
			},
		},
		{
			name: "path steps below one",
			yaml: "map:\n  path_steps: 0\n",
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 1, cfg.Map.PathSteps)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("aggregator:\n  snapshot_interval: \"soon\"\n"))
	require.ErrorContains(t, err, "aggregator.snapshot_interval")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aggregator: [1, 2"), 0o644))
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "failed to unmarshal config YAML")
}
