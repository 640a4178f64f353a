package protocol

import (
	"context"
	"fmt"
	"net/netip"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// LocalAddrs returns every address configured on the host's interfaces.
func LocalAddrs(ctx context.Context) ([]netip.Addr, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var addrs []netip.Addr
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			if prefix, err := netip.ParsePrefix(a.Addr); err == nil {
				addrs = append(addrs, prefix.Addr().Unmap())
				continue
			}
			if addr, err := netip.ParseAddr(a.Addr); err == nil {
				addrs = append(addrs, addr.Unmap())
			}
		}
	}
	return addrs, nil
}
