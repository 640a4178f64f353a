package geo

import (
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"PacketRadar/internal/model"

	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls atomic.Int64
	data  Static
}

func (s *countingSource) Resolve(ip netip.Addr) (model.GeoInfo, bool) {
	s.calls.Add(1)
	return s.data.Resolve(ip)
}

func TestCacheMemoizesHitsAndMisses(t *testing.T) {
	src := &countingSource{data: Static{
		"8.8.8.8": {Lat: 37.75, Lon: -97.82, Country: "US", Org: "15169 GOOGLE"},
	}}
	c := NewCache(src)

	for i := 0; i < 3; i++ {
		info, ok := c.Lookup("8.8.8.8")
		require.True(t, ok)
		require.Equal(t, "15169 GOOGLE", info.Org)

		_, ok = c.Lookup("9.9.9.9")
		require.False(t, ok)
	}

	require.Equal(t, int64(2), src.calls.Load())
	require.Equal(t, 2, c.Len())
}

func TestCacheUnparseableAddress(t *testing.T) {
	src := &countingSource{data: Static{}}
	c := NewCache(src)

	_, ok := c.Lookup("999.1.1.1")
	require.False(t, ok)
	require.Zero(t, src.calls.Load())
}

func TestCacheNilSource(t *testing.T) {
	info, ok := NewCache(nil).Lookup("8.8.8.8")
	require.False(t, ok)
	require.Equal(t, model.GeoInfo{}, info)
}

func TestCacheConcurrentLookups(t *testing.T) {
	src := &countingSource{data: Static{"1.1.1.1": {Country: "AU"}}}
	c := NewCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				info, ok := c.Lookup("1.1.1.1")
				if !ok || info.Country != "AU" {
					t.Errorf("unexpected lookup result: %+v %v", info, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, c.Len())
}

func TestOpenDatabasesDegradesGracefully(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		dbs, err := OpenDatabases(filepath.Join(t.TempDir(), "does-not-exist"))
		require.NoError(t, err)
		require.False(t, dbs.Loaded())
		_, ok := dbs.Resolve(netip.MustParseAddr("8.8.8.8"))
		require.False(t, ok)
	})

	t.Run("corrupt database", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "GeoLite2-City.mmdb"), []byte("not a database"), 0o644))

		c, dbs, err := Open(dir)
		require.NoError(t, err)
		defer dbs.Close()
		require.False(t, dbs.Loaded())
		_, ok := c.Lookup("8.8.8.8")
		require.False(t, ok)
	})

	t.Run("empty path", func(t *testing.T) {
		dbs, err := OpenDatabases("")
		require.NoError(t, err)
		require.False(t, dbs.Loaded())
	})
}
