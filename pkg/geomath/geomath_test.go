package geomath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathIdenticalEndpoints(t *testing.T) {
	require.Empty(t, Path(55.6761, 12.5683, 55.6761, 12.5683, 50))
	require.Empty(t, Path(0, 0, 0, 0, 10))
}

func TestPathEndpoints(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		steps                  int
	}{
		{"copenhagen-newyork", 55.6761, 12.5683, 40.7128, -74.0060, 50},
		{"near-antipodal", 10, 20, -9.5, -159.5, 90},
		{"single-step", 1, 1, 2, 2, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Path(tc.lat1, tc.lon1, tc.lat2, tc.lon2, tc.steps)
			require.Len(t, p, tc.steps+1)
			require.InDelta(t, tc.lat1, p[0].Lat, 1e-9)
			require.InDelta(t, tc.lon1, p[0].Lon, 1e-9)
			require.InDelta(t, tc.lat2, p[len(p)-1].Lat, 1e-9)
			require.InDelta(t, tc.lon2, p[len(p)-1].Lon, 1e-9)
		})
	}
}

func TestPathFollowsGreatCircle(t *testing.T) {
	// Along the equator the arc stays on the equator and longitudes advance evenly.
	p := Path(0, 0, 0, 90, 3)
	require.Len(t, p, 4)
	for i, pt := range p {
		require.InDelta(t, 0, pt.Lat, 1e-9)
		require.InDelta(t, float64(i)*30, pt.Lon, 1e-9)
	}

	// The midpoint between two points at the same northern latitude bulges poleward.
	p = Path(50, -30, 50, 30, 2)
	require.Greater(t, p[1].Lat, 50.0)
	require.InDelta(t, 0, p[1].Lon, 1e-9)
}

func TestPathClampsSteps(t *testing.T) {
	require.Len(t, Path(0, 0, 10, 10, 0), 2)
	require.Len(t, Path(0, 0, 10, 10, -5), 2)
}

func TestPathOrLine(t *testing.T) {
	a := LatLon{Lat: 56, Lon: 10}
	require.Equal(t, []LatLon{a, a}, PathOrLine(a, a, 90))
	require.Len(t, PathOrLine(a, LatLon{Lat: 37.4, Lon: -122.1}, 90), 91)
}

func TestDistance(t *testing.T) {
	d := Distance(LatLon{Lat: 0, Lon: 0}, LatLon{Lat: 0, Lon: 180})
	require.InDelta(t, math.Pi*EarthRadiusKm, d, 1e-6)
	require.Zero(t, Distance(LatLon{Lat: 12, Lon: 34}, LatLon{Lat: 12, Lon: 34}))
}
