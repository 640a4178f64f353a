package main

import (
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"
)

// destinations are well-known public resolvers and CDNs so that replays
// produce history rows and, with geo databases, map points.
var destinations = []net.IP{
	{1, 1, 1, 1},
	{8, 8, 8, 8},
	{9, 9, 9, 9},
	{151, 101, 1, 69},
	{140, 82, 121, 4},
	{104, 16, 132, 229},
}

var remotePorts = []layers.TCPPort{443, 80, 22}

type genOptions struct {
	output   string
	count    int
	host     string
	replyPct int
	seed     int64
	span     time.Duration
}

func main() {
	var opts genOptions

	root := &cobra.Command{
		Use:          "pcapgen",
		Short:        "Generate a synthetic capture of a host talking to public destinations",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(opts)
		},
	}
	root.Flags().StringVarP(&opts.output, "output", "o", "test.pcap", "output pcap file path")
	root.Flags().IntVarP(&opts.count, "count", "c", 1000, "number of packets to generate")
	root.Flags().StringVar(&opts.host, "host", "192.168.1.10", "address of the capturing host")
	root.Flags().IntVar(&opts.replyPct, "reply-pct", 40, "percentage of packets sent back to the host")
	root.Flags().Int64Var(&opts.seed, "seed", 1, "random seed")
	root.Flags().DurationVar(&opts.span, "span", 10*time.Second, "time spread of the packet timestamps")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func generate(opts genOptions) error {
	host := net.ParseIP(opts.host).To4()
	if host == nil {
		return fmt.Errorf("host must be an IPv4 address: %q", opts.host)
	}
	if opts.count <= 0 {
		return fmt.Errorf("count must be positive")
	}

	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	rng := rand.New(rand.NewSource(opts.seed))
	start := time.Now().Add(-opts.span)
	step := opts.span / time.Duration(opts.count)

	log.Printf("Generating %d packets into %s...", opts.count, opts.output)
	for i := 0; i < opts.count; i++ {
		remote := destinations[rng.Intn(len(destinations))]
		remotePort := remotePorts[rng.Intn(len(remotePorts))]
		localPort := layers.TCPPort(40000 + rng.Intn(64))

		src, dst := host, remote
		srcPort, dstPort := localPort, remotePort
		if rng.Intn(100) < opts.replyPct {
			src, dst = remote, host
			srcPort, dstPort = remotePort, localPort
		}

		payload := make([]byte, rng.Intn(1400)+50)
		rng.Read(payload)

		data, err := serialize(src, dst, srcPort, dstPort, payload)
		if err != nil {
			return err
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * step),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}

	log.Printf("Successfully generated %d packets into %s.", opts.count, opts.output)
	return nil
}

func serialize(src, dst net.IP, srcPort, dstPort layers.TCPPort, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		SrcIP:    src,
		DstIP:    dst,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}
	tcp := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		ACK:     true,
		PSH:     true,
		Window:  14600,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}
