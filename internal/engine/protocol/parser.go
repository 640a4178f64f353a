package protocol

import (
	"errors"
	"net/netip"
	"time"

	"PacketRadar/internal/engine/classify"
	"PacketRadar/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrNotIP        = errors.New("not an IPv4 or IPv6 packet")
	ErrNotTransport = errors.New("not a TCP or UDP packet")
)

// PIDLookup maps a local transport endpoint to the owning process.
// It returns 0 when the owner is unknown.
type PIDLookup interface {
	Lookup(proto model.Protocol, localPort uint16) int32
}

// Parser turns captured packets into PacketRecords. The destination of a
// record is always the remote endpoint, so inbound packets are mirrored.
type Parser struct {
	local map[netip.Addr]struct{}
	pids  PIDLookup
}

// NewParser creates a parser. local lists the host's own addresses; when it
// is empty, non-public addresses are taken to be local. pids may be nil.
func NewParser(local []netip.Addr, pids PIDLookup) *Parser {
	p := &Parser{local: make(map[netip.Addr]struct{}, len(local)), pids: pids}
	for _, a := range local {
		p.local[a.Unmap()] = struct{}{}
	}
	return p
}

// ParsePacket parses a packet with no knowledge of local addresses or owners.
func ParsePacket(packet gopacket.Packet) (model.PacketRecord, error) {
	return NewParser(nil, nil).Parse(packet)
}

// Parse extracts the flow metadata of a single packet.
func (p *Parser) Parse(packet gopacket.Packet) (model.PacketRecord, error) {
	rec := model.PacketRecord{Timestamp: time.Now(), Size: len(packet.Data())}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			rec.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			rec.Size = meta.Length
		}
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		rec.SrcIP = toAddr(ip.SrcIP)
		rec.DstIP = toAddr(ip.DstIP)
	case *layers.IPv6:
		rec.SrcIP = toAddr(ip.SrcIP)
		rec.DstIP = toAddr(ip.DstIP)
	default:
		return model.PacketRecord{}, ErrNotIP
	}

	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		rec.Protocol = model.ProtocolTCP
		rec.SrcPort = uint16(l.SrcPort)
		rec.DstPort = uint16(l.DstPort)
	case *layers.UDP:
		rec.Protocol = model.ProtocolUDP
		rec.SrcPort = uint16(l.SrcPort)
		rec.DstPort = uint16(l.DstPort)
	default:
		return model.PacketRecord{}, ErrNotTransport
	}

	if !p.isLocal(rec.SrcIP) && p.isLocal(rec.DstIP) {
		rec.SrcIP, rec.DstIP = rec.DstIP, rec.SrcIP
		rec.SrcPort, rec.DstPort = rec.DstPort, rec.SrcPort
	}

	if p.pids != nil {
		rec.PID = p.pids.Lookup(rec.Protocol, rec.SrcPort)
	}
	return rec, nil
}

func (p *Parser) isLocal(a netip.Addr) bool {
	if len(p.local) == 0 {
		return !classify.IsPublic(a.String())
	}
	_, ok := p.local[a]
	return ok
}

func toAddr(b []byte) netip.Addr {
	a, ok := netip.AddrFromSlice(b)
	if !ok {
		return model.UnknownAddr
	}
	return a.Unmap()
}
