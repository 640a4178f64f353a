// Package geomath provides spherical helpers for drawing connection paths on a map.
package geomath

import "math"

// EarthRadiusKm is the mean earth radius used by Distance.
const EarthRadiusKm = 6371.0

// LatLon is a coordinate pair in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func toRad(d float64) float64 { return d * math.Pi / 180.0 }
func toDeg(r float64) float64 { return r * 180.0 / math.Pi }

// centralAngle returns the haversine central angle between two points given in radians.
func centralAngle(lat1, lon1, lat2, lon2 float64) float64 {
	sLat := math.Sin((lat2 - lat1) / 2)
	sLon := math.Sin((lon2 - lon1) / 2)
	h := sLat*sLat + math.Cos(lat1)*math.Cos(lat2)*sLon*sLon
	return 2 * math.Asin(math.Sqrt(math.Min(1, h)))
}

// Path interpolates steps+1 points along the minor great-circle arc from
// (lat1, lon1) to (lat2, lon2). It returns an empty slice when the two points
// coincide; callers fall back to a straight line in that case.
func Path(lat1, lon1, lat2, lon2 float64, steps int) []LatLon {
	if steps < 1 {
		steps = 1
	}
	φ1, λ1 := toRad(lat1), toRad(lon1)
	φ2, λ2 := toRad(lat2), toRad(lon2)

	d := centralAngle(φ1, λ1, φ2, λ2)
	if d == 0 {
		return []LatLon{}
	}
	sinD := math.Sin(d)

	coords := make([]LatLon, 0, steps+1)
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		a := math.Sin((1-f)*d) / sinD
		b := math.Sin(f*d) / sinD

		x := a*math.Cos(φ1)*math.Cos(λ1) + b*math.Cos(φ2)*math.Cos(λ2)
		y := a*math.Cos(φ1)*math.Sin(λ1) + b*math.Cos(φ2)*math.Sin(λ2)
		z := a*math.Sin(φ1) + b*math.Sin(φ2)

		coords = append(coords, LatLon{
			Lat: toDeg(math.Atan2(z, math.Sqrt(x*x+y*y))),
			Lon: toDeg(math.Atan2(y, x)),
		})
	}
	return coords
}

// PathOrLine is Path with the straight two-point fallback applied.
func PathOrLine(from, to LatLon, steps int) []LatLon {
	if p := Path(from.Lat, from.Lon, to.Lat, to.Lon, steps); len(p) > 0 {
		return p
	}
	return []LatLon{from, to}
}

// Distance returns the great-circle distance in kilometres.
func Distance(from, to LatLon) float64 {
	return centralAngle(toRad(from.Lat), toRad(from.Lon), toRad(to.Lat), toRad(to.Lon)) * EarthRadiusKm
}
