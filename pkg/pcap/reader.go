package pcap

import (
	"fmt"
	"io"
	"log"
	"os"

	"PacketRadar/internal/engine/protocol"
	"PacketRadar/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Reader reads packets from a pcap file without libpcap.
type Reader struct {
	file   *os.File
	source *gopacket.PacketSource
	parser *protocol.Parser
}

// NewReader opens a classic pcap file. parser may be nil, in which case
// addresses are classified by range only.
func NewReader(filePath string, parser *protocol.Parser) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	if parser == nil {
		parser = protocol.NewParser(nil, nil)
	}
	return &Reader{
		file:   f,
		source: gopacket.NewPacketSource(r, r.LinkType()),
		parser: parser,
	}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadPackets parses every packet in the file and sends the records to out.
// It closes out when the file is exhausted and returns the number of packets
// skipped as unsupported.
func (r *Reader) ReadPackets(out chan<- model.PacketRecord) int {
	defer close(out)

	skipped := 0
	for {
		packet, err := r.source.NextPacket()
		if err == io.EOF {
			return skipped
		}
		if err != nil {
			log.Printf("Error reading packet: %v", err)
			return skipped
		}
		rec, err := r.parser.Parse(packet)
		if err != nil {
			skipped++
			continue
		}
		out <- rec
	}
}
