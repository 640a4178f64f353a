// Package classify holds the address and unit helpers shared by the engine
// and its projections.
package classify

import (
	"fmt"
	"net/netip"
)

var privateV4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
}

// IsPublic reports whether ip may be reachable over the public internet.
// Unparseable input is never public. Only IPv4 private, loopback and
// link-local ranges are excluded; IPv6 addresses are treated as public.
func IsPublic(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		// TODO: exclude fc00::/7, fe80::/10 and ::1 once the map view agrees on it.
		return true
	}
	for _, p := range privateV4 {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count with 1024-based units and one decimal place.
func FormatBytes(b int64) string {
	v := float64(b)
	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, byteUnits[i])
}
