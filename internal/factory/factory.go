package factory

import (
	"fmt"
	"log"
	"sort"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/model"
)

// WriterFactory builds one export writer from its config definition.
type WriterFactory func(def config.WriterDef, interval time.Duration) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Types lists the registered writer types.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateWriters builds every enabled writer. A writer that cannot be built is
// logged and skipped so that one broken sink never stops aggregation.
func CreateWriters(defs []config.WriterDef) []model.Writer {
	writers := make([]model.Writer, 0, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}

		interval, err := time.ParseDuration(def.SnapshotInterval)
		if err != nil || interval <= 0 {
			log.Printf("Warning: invalid snapshot_interval '%s' for writer type '%s', skipping.", def.SnapshotInterval, def.Type)
			continue
		}

		factory, ok := registry[def.Type]
		if !ok {
			log.Printf("Warning: unknown writer type '%s' in config, skipping.", def.Type)
			continue
		}

		writer, err := factory(def, interval)
		if err != nil {
			log.Printf("Warning: failed to create writer type '%s': %v, skipping.", def.Type, err)
			continue
		}
		log.Printf("Created writer '%s' with interval %s.", def.Type, interval)
		writers = append(writers, writer)
	}
	return writers
}
