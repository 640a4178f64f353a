package persistent

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PacketContainer holds both the raw packet and the parsed record.
type PacketContainer struct {
	RawPacket gopacket.Packet
	Record    model.PacketRecord
}

// Worker records captured traffic to a single file on a background goroutine.
type Worker struct {
	packetChan chan *PacketContainer
	file       *os.File
	wg         sync.WaitGroup
	stopOnce   sync.Once
	dropped    uint64
}

// NewWorker creates the output file and starts the writer. linkType is the
// link type of the capture source and is only used by the pcap encoding.
func NewWorker(cfg config.PersistenceConfig, linkType layers.LinkType, snapLen uint32) (*Worker, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persistence directory: %w", err)
	}

	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 10000
	}

	var (
		ext string
		run func(*os.File) error
	)
	w := &Worker{packetChan: make(chan *PacketContainer, bufferSize)}
	switch cfg.Encoding {
	case "pcap":
		ext = ".pcap"
		run = func(f *os.File) error { return w.runPcap(f, linkType, snapLen) }
	case "text":
		ext = ".log"
		run = w.runText
	default:
		return nil, fmt.Errorf("unknown persistence encoding '%s'", cfg.Encoding)
	}

	fileName := fmt.Sprintf("%s%s", time.Now().Format("2006-01-02_15-04-05"), ext)
	file, err := os.OpenFile(filepath.Join(cfg.Path, fileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	w.file = file

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := run(file); err != nil {
			log.Printf("PersistentWorker: %v", err)
		}
	}()

	log.Printf("Persistent worker started, encoding: %s, writing to: %s", cfg.Encoding, file.Name())
	return w, nil
}

// Path returns the output file path.
func (w *Worker) Path() string {
	return w.file.Name()
}

func (w *Worker) runPcap(file *os.File, linkType layers.LinkType, snapLen uint32) error {
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(snapLen, linkType); err != nil {
		for range w.packetChan {
		}
		return fmt.Errorf("failed to write pcap file header: %w", err)
	}
	for container := range w.packetChan {
		if container.RawPacket == nil {
			continue
		}
		ci := container.RawPacket.Metadata().CaptureInfo
		data := container.RawPacket.Data()
		if ci.CaptureLength == 0 {
			ci.CaptureLength = len(data)
			ci.Length = len(data)
		}
		if ci.Timestamp.IsZero() {
			ci.Timestamp = container.Record.Timestamp
		}
		if err := writer.WritePacket(ci, data); err != nil {
			log.Printf("PersistentWorker (pcap): Error writing packet: %v", err)
		}
	}
	return nil
}

func (w *Worker) runText(file *os.File) error {
	writer := bufio.NewWriter(file)
	for container := range w.packetChan {
		rec := container.Record
		line := fmt.Sprintf("%s - pid %d %s:%d -> %s:%d, Proto: %s, Len: %d\n",
			rec.Timestamp.Format("2006-01-02 15:04:05.000"),
			rec.PID,
			model.AddrString(rec.SrcIP),
			rec.SrcPort,
			model.AddrString(rec.DstIP),
			rec.DstPort,
			rec.Protocol,
			rec.Size,
		)
		if _, err := writer.WriteString(line); err != nil {
			log.Printf("PersistentWorker (text): Error writing packet: %v", err)
		}
	}
	return writer.Flush()
}

// Stop drains pending packets and closes the file. It is safe to call twice.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.packetChan)
		w.wg.Wait()
		if err := w.file.Close(); err != nil {
			log.Printf("PersistentWorker: Error closing file: %v", err)
		}
		log.Printf("Persistent worker stopped and file closed, %d packets dropped.", w.dropped)
	})
}

// Enqueue hands a packet to the writer, dropping it when the buffer is full.
// It must not be called concurrently with Stop.
func (w *Worker) Enqueue(container *PacketContainer) bool {
	select {
	case w.packetChan <- container:
		return true
	default:
		w.dropped++
		return false
	}
}
