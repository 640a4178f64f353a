package model

import (
	"fmt"
	"net/netip"
	"time"
)

// Protocol is the transport protocol of an observed packet, e.g. "TCP" or "UDP".
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// ProtocolFromIP maps an IP protocol number to its Protocol name.
func ProtocolFromIP(n uint8) Protocol {
	switch n {
	case 6:
		return ProtocolTCP
	case 17:
		return ProtocolUDP
	default:
		return Protocol(fmt.Sprintf("IP-%d", n))
	}
}

// UnknownAddr is substituted for any address that fails to parse.
var UnknownAddr = netip.IPv4Unspecified()

// PacketRecord holds the metadata of a single observed packet event.
type PacketRecord struct {
	Timestamp time.Time
	PID       int32
	Protocol  Protocol
	SrcIP     netip.Addr
	SrcPort   uint16
	DstIP     netip.Addr
	DstPort   uint16
	Size      int
}

// FlowKey identifies one live flow. It is comparable and used directly as a map key.
type FlowKey struct {
	PID      int32
	DstIP    string
	DstPort  uint16
	Protocol Protocol
}

// KeyOf returns the FlowKey of a packet.
func KeyOf(p PacketRecord) FlowKey {
	return FlowKey{
		PID:      p.PID,
		DstIP:    AddrString(p.DstIP),
		DstPort:  p.DstPort,
		Protocol: p.Protocol,
	}
}

// String renders the key as "pid-dst-port-proto", the same shape used for shard hashing.
func (k FlowKey) String() string {
	return fmt.Sprintf("%d-%s-%d-%s", k.PID, k.DstIP, k.DstPort, k.Protocol)
}

// AddrString renders an address, substituting UnknownAddr for invalid ones.
func AddrString(a netip.Addr) string {
	if !a.IsValid() {
		return UnknownAddr.String()
	}
	return a.Unmap().String()
}

// ParseAddr parses an address string. Malformed input yields UnknownAddr
// so the packet is still counted.
func ParseAddr(s string) netip.Addr {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return UnknownAddr
	}
	return a.Unmap()
}
