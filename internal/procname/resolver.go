// Package procname maps process ids to display names.
package procname

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// LookupFunc returns the name of a running process.
type LookupFunc func(ctx context.Context, pid int32) (string, error)

// Resolver resolves and memoizes process names. It implements model.ProcessResolver.
type Resolver struct {
	lookup LookupFunc
	names  sync.Map // int32 -> string
}

// New returns a Resolver backed by the host process table.
func New() *Resolver {
	return NewWithLookup(systemLookup)
}

// NewWithLookup returns a Resolver backed by lookup.
func NewWithLookup(lookup LookupFunc) *Resolver {
	return &Resolver{lookup: lookup}
}

func systemLookup(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

// Fallback is the label used for a pid whose name cannot be resolved.
func Fallback(pid int32) string {
	return fmt.Sprintf("PID %d", pid)
}

// Name returns the process name for pid, or Fallback(pid) on any failure.
// The first answer for a pid is kept for the life of the Resolver.
func (r *Resolver) Name(pid int32) string {
	if v, ok := r.names.Load(pid); ok {
		return v.(string)
	}

	name := Fallback(pid)
	if pid > 0 && r.lookup != nil {
		if n, err := r.lookup(context.Background(), pid); err == nil && n != "" {
			name = n
		}
	}

	v, _ := r.names.LoadOrStore(pid, name)
	return v.(string)
}
