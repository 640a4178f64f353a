package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProbeConfig holds the capture side settings.
type ProbeConfig struct {
	NATSURL            string            `yaml:"nats_url"`
	Subject            string            `yaml:"subject"`
	Interface          string            `yaml:"interface"`
	SnapshotLen        int32             `yaml:"snapshot_len"`
	Promiscuous        bool              `yaml:"promiscuous"`
	BPFFilter          string            `yaml:"bpf_filter"`
	PIDRefreshInterval string            `yaml:"pid_refresh_interval"`
	Persistence        PersistenceConfig `yaml:"persistence"`
}

// PersistenceConfig controls recording of captured traffic on the probe.
type PersistenceConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Path              string `yaml:"path"`
	Encoding          string `yaml:"encoding"`
	ChannelBufferSize int    `yaml:"channel_buffer_size"`
}

// AggregatorConfig holds the configuration for the flow aggregation engine.
type AggregatorConfig struct {
	TTL                 string `yaml:"ttl"`
	SnapshotInterval    string `yaml:"snapshot_interval"`
	NumWorkers          int    `yaml:"num_workers"`
	SizeOfPacketChannel int    `yaml:"size_of_packet_channel"`
	NumShards           uint32 `yaml:"num_shards"`
	MaxLiveRows         int    `yaml:"max_live_rows"`
	MaxHistoryRows      int    `yaml:"max_history_rows"`
}

// GeoConfig points at the directory holding MaxMind databases.
type GeoConfig struct {
	DBDir string `yaml:"db_dir"`
}

// MapConfig holds the map view settings.
type MapConfig struct {
	HomeLat   float64 `yaml:"home_lat"`
	HomeLon   float64 `yaml:"home_lon"`
	PathSteps int     `yaml:"path_steps"`
}

// APIConfig holds the listen addresses of the read API.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// FileConfig holds the snapshot file writer settings.
type FileConfig struct {
	RootPath string `yaml:"root_path"`
	Gob      bool   `yaml:"gob"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines one snapshot export sink.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	File             FileConfig       `yaml:"file"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Probe      ProbeConfig      `yaml:"probe"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Geo        GeoConfig        `yaml:"geo"`
	Map        MapConfig        `yaml:"map"`
	API        APIConfig        `yaml:"api"`
	Writers    []WriterDef      `yaml:"writers"`
}

// Default returns the configuration used when a field is left empty.
func Default() *Config {
	return &Config{
		Probe: ProbeConfig{
			NATSURL:            "nats://127.0.0.1:4222",
			Subject:            "packetradar.packets.raw",
			SnapshotLen:        1600,
			Promiscuous:        true,
			BPFFilter:          "tcp or udp",
			PIDRefreshInterval: "2s",
			Persistence: PersistenceConfig{
				Path:              "captures",
				Encoding:          "pcap",
				ChannelBufferSize: 10000,
			},
		},
		Aggregator: AggregatorConfig{
			TTL:                 "5s",
			SnapshotInterval:    "1s",
			NumWorkers:          4,
			SizeOfPacketChannel: 10000,
			NumShards:           256,
			MaxLiveRows:         100,
			MaxHistoryRows:      200,
		},
		Geo: GeoConfig{DBDir: "geo"},
		Map: MapConfig{HomeLat: 56, HomeLon: 10, PathSteps: 90},
		API: APIConfig{ListenAddr: ":8080", GRPCListenAddr: ":9090"},
	}
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
// Fields missing from the file keep their defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize clamps out-of-range values and rejects malformed durations.
func (c *Config) normalize() error {
	d := Default()

	ttl, err := parseDuration("aggregator.ttl", c.Aggregator.TTL, d.Aggregator.TTL)
	if err != nil {
		return err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	c.Aggregator.TTL = ttl.String()

	if _, err := parseDuration("aggregator.snapshot_interval", c.Aggregator.SnapshotInterval, d.Aggregator.SnapshotInterval); err != nil {
		return err
	}
	if c.Aggregator.SnapshotInterval == "" {
		c.Aggregator.SnapshotInterval = d.Aggregator.SnapshotInterval
	}
	if _, err := parseDuration("probe.pid_refresh_interval", c.Probe.PIDRefreshInterval, d.Probe.PIDRefreshInterval); err != nil {
		return err
	}
	if c.Probe.PIDRefreshInterval == "" {
		c.Probe.PIDRefreshInterval = d.Probe.PIDRefreshInterval
	}

	if c.Aggregator.NumWorkers <= 0 {
		c.Aggregator.NumWorkers = d.Aggregator.NumWorkers
	}
	if c.Aggregator.SizeOfPacketChannel <= 0 {
		c.Aggregator.SizeOfPacketChannel = d.Aggregator.SizeOfPacketChannel
	}
	if c.Aggregator.MaxLiveRows <= 0 {
		c.Aggregator.MaxLiveRows = d.Aggregator.MaxLiveRows
	}
	if c.Aggregator.MaxHistoryRows <= 0 {
		c.Aggregator.MaxHistoryRows = d.Aggregator.MaxHistoryRows
	}
	if c.Map.PathSteps < 1 {
		c.Map.PathSteps = 1
	}
	if c.Probe.SnapshotLen <= 0 {
		c.Probe.SnapshotLen = d.Probe.SnapshotLen
	}
	return nil
}

func parseDuration(field, value, fallback string) (time.Duration, error) {
	if value == "" {
		value = fallback
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return dur, nil
}

// TTLDuration returns the parsed flow idle timeout.
func (a AggregatorConfig) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(a.TTL)
	return d
}

// SnapshotEvery returns the parsed snapshot interval.
func (a AggregatorConfig) SnapshotEvery() time.Duration {
	d, _ := time.ParseDuration(a.SnapshotInterval)
	return d
}

// PIDRefreshEvery returns the parsed port table refresh interval.
func (p ProbeConfig) PIDRefreshEvery() time.Duration {
	d, _ := time.ParseDuration(p.PIDRefreshInterval)
	return d
}
