package pidmap

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"PacketRadar/internal/model"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/require"
)

func conn(typ uint32, port uint32, pid int32) psnet.ConnectionStat {
	return psnet.ConnectionStat{Type: typ, Laddr: psnet.Addr{IP: "0.0.0.0", Port: port}, Pid: pid}
}

func TestRefreshIndexesByProtocolAndPort(t *testing.T) {
	tbl := NewWithList(func(context.Context) ([]psnet.ConnectionStat, error) {
		return []psnet.ConnectionStat{
			conn(syscall.SOCK_STREAM, 51000, 100),
			conn(syscall.SOCK_DGRAM, 51000, 200),
			conn(syscall.SOCK_STREAM, 0, 300),
			conn(syscall.SOCK_STREAM, 22, 0),
			conn(syscall.SOCK_RAW, 9, 400),
		}, nil
	})

	require.NoError(t, tbl.Refresh(context.Background()))
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, int32(100), tbl.Lookup(model.ProtocolTCP, 51000))
	require.Equal(t, int32(200), tbl.Lookup(model.ProtocolUDP, 51000))
	require.Zero(t, tbl.Lookup(model.ProtocolTCP, 22))
	require.Zero(t, tbl.Lookup(model.ProtocolTCP, 9))
}

func TestRefreshErrorKeepsPreviousIndex(t *testing.T) {
	fail := false
	tbl := NewWithList(func(context.Context) ([]psnet.ConnectionStat, error) {
		if fail {
			return nil, errors.New("permission denied")
		}
		return []psnet.ConnectionStat{conn(syscall.SOCK_STREAM, 8080, 7)}, nil
	})

	require.NoError(t, tbl.Refresh(context.Background()))
	fail = true
	require.ErrorContains(t, tbl.Refresh(context.Background()), "permission denied")
	require.Equal(t, int32(7), tbl.Lookup(model.ProtocolTCP, 8080))
}

func TestRunStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 16)
	tbl := NewWithList(func(context.Context) ([]psnet.ConnectionStat, error) {
		calls <- struct{}{}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tbl.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	<-calls
	<-calls
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
