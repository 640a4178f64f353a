package model

// GeoInfo describes where an address lives. Zero fields mean the loaded
// databases do not cover the address; they are not an error.
type GeoInfo struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	Org     string  `json:"org"`
}

// GeoLookup resolves an IP string to its geo metadata.
// ok is false when no usable record exists.
type GeoLookup interface {
	Lookup(ip string) (info GeoInfo, ok bool)
}

// ProcessResolver maps a pid to a display name. It never fails; an
// unresolvable pid yields a deterministic fallback label.
type ProcessResolver interface {
	Name(pid int32) string
}
