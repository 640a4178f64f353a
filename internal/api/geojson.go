package api

import (
	"PacketRadar/internal/model"
	"PacketRadar/pkg/geomath"

	geojson "github.com/paulmach/go.geojson"
)

// PointsCollection renders map points as a FeatureCollection of Points.
func PointsCollection(points []model.MapPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewPointFeature([]float64{p.Lon, p.Lat})
		f.SetProperty("ip", p.IP)
		f.SetProperty("bytes", p.Bytes)
		f.SetProperty("count", p.Count)
		f.SetProperty("colorKey", p.ColorKey)
		f.SetProperty("label", p.Label)
		fc.AddFeature(f)
	}
	return fc
}

// PathFeature renders the great-circle path from home to p as a LineString.
// Coincident endpoints fall back to the two-point straight line.
func PathFeature(home geomath.LatLon, p model.MapPoint, steps int) *geojson.Feature {
	pts := geomath.PathOrLine(home, geomath.LatLon{Lat: p.Lat, Lon: p.Lon}, steps)
	coords := make([][]float64, len(pts))
	for i, ll := range pts {
		coords[i] = []float64{ll.Lon, ll.Lat}
	}
	f := geojson.NewLineStringFeature(coords)
	f.SetProperty("ip", p.IP)
	f.SetProperty("colorKey", p.ColorKey)
	f.SetProperty("distance_km", geomath.Distance(home, geomath.LatLon{Lat: p.Lat, Lon: p.Lon}))
	return f
}
