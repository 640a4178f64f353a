// Package pidmap attributes local transport ports to the processes that own them.
package pidmap

import (
	"context"
	"fmt"
	"log"
	"sync"
	"syscall"
	"time"

	"PacketRadar/internal/model"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// ListFunc returns the host's current inet sockets.
type ListFunc func(ctx context.Context) ([]psnet.ConnectionStat, error)

type portKey struct {
	proto model.Protocol
	port  uint16
}

// Table is a periodically refreshed local port -> pid index.
// It implements protocol.PIDLookup.
type Table struct {
	list ListFunc

	mu    sync.RWMutex
	owner map[portKey]int32
}

// New returns a Table backed by the host socket table.
func New() *Table {
	return NewWithList(func(ctx context.Context) ([]psnet.ConnectionStat, error) {
		return psnet.ConnectionsWithContext(ctx, "inet")
	})
}

// NewWithList returns a Table backed by list.
func NewWithList(list ListFunc) *Table {
	return &Table{list: list, owner: make(map[portKey]int32)}
}

// Refresh rebuilds the index from a fresh socket listing.
func (t *Table) Refresh(ctx context.Context) error {
	conns, err := t.list(ctx)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}

	owner := make(map[portKey]int32, len(conns))
	for _, c := range conns {
		if c.Pid <= 0 || c.Laddr.Port == 0 || c.Laddr.Port > 65535 {
			continue
		}
		var proto model.Protocol
		switch c.Type {
		case syscall.SOCK_STREAM:
			proto = model.ProtocolTCP
		case syscall.SOCK_DGRAM:
			proto = model.ProtocolUDP
		default:
			continue
		}
		owner[portKey{proto, uint16(c.Laddr.Port)}] = c.Pid
	}

	t.mu.Lock()
	t.owner = owner
	t.mu.Unlock()
	return nil
}

// Run refreshes the table every interval until ctx is cancelled.
func (t *Table) Run(ctx context.Context, interval time.Duration) {
	if err := t.Refresh(ctx); err != nil {
		log.Printf("Port table refresh failed: %v", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				log.Printf("Port table refresh failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Lookup returns the pid owning localPort, or 0 when unknown.
func (t *Table) Lookup(proto model.Protocol, localPort uint16) int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owner[portKey{proto, localPort}]
}

// Len returns the number of indexed ports.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.owner)
}
