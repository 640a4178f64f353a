package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PacketRadar/internal/config"
	"PacketRadar/internal/engine/protocol"
	"PacketRadar/internal/model"
	"PacketRadar/internal/probe"
	"PacketRadar/internal/probe/persistent"
	"PacketRadar/internal/probe/pidmap"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		iface      string
	)

	root := &cobra.Command{
		Use:          "pr-probe",
		Short:        "Capture packets on an interface and publish them to NATS",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")

	pubCmd := &cobra.Command{
		Use:   "pub",
		Short: "Capture packets and publish records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if iface != "" {
				cfg.Probe.Interface = iface
			}
			if cfg.Probe.Interface == "" {
				return fmt.Errorf("an interface is required: set probe.interface or --iface")
			}
			return runProbe(cfg.Probe)
		},
	}
	pubCmd.Flags().StringVarP(&iface, "iface", "i", "", "interface to capture packets from (overrides probe.interface)")

	subCmd := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe to published records and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return runSubscriber(cfg.Probe)
		},
	}

	root.AddCommand(pubCmd, subCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runProbe captures packets from the configured interface and publishes them to NATS.
func runProbe(cfg config.ProbeConfig) error {
	log.Printf("Starting pr-probe in PROBE mode on interface: %s", cfg.Interface)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := probe.NewPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	handle, err := pcap.OpenLive(cfg.Interface, cfg.SnapshotLen, cfg.Promiscuous, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", cfg.Interface, err)
	}
	defer handle.Close()
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			return fmt.Errorf("invalid bpf filter '%s': %w", cfg.BPFFilter, err)
		}
	}

	pids := pidmap.New()
	if err := pids.Refresh(ctx); err != nil {
		log.Printf("Warning: initial port table refresh failed: %v", err)
	}
	go pids.Run(ctx, cfg.PIDRefreshEvery())

	local, err := protocol.LocalAddrs(ctx)
	if err != nil {
		log.Printf("Warning: could not list local addresses, falling back to range checks: %v", err)
	}
	parser := protocol.NewParser(local, pids)

	var recorder *persistent.Worker
	if cfg.Persistence.Enabled {
		recorder, err = persistent.NewWorker(cfg.Persistence, handle.LinkType(), uint32(cfg.SnapshotLen))
		if err != nil {
			return err
		}
		defer recorder.Stop()
		log.Printf("Recording captured traffic to %s", recorder.Path())
	}

	log.Println("Capture started successfully. Publishing packets to NATS...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		published := 0
		for packet := range packetSource.Packets() {
			rec, err := parser.Parse(packet)
			if err != nil {
				continue
			}
			if recorder != nil {
				recorder.Enqueue(&persistent.PacketContainer{RawPacket: packet, Record: rec})
			}
			if err := pub.Publish(rec); err != nil {
				log.Printf("Failed to publish packet: %v", err)
				continue
			}
			published++
			if published%1000 == 0 {
				log.Printf("%d packets published...", published)
			}
		}
	}()

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	if err := pub.Flush(); err != nil {
		log.Printf("Failed to flush publisher: %v", err)
	}
	return nil
}

// runSubscriber prints every record received on the configured subject.
func runSubscriber(cfg config.ProbeConfig) error {
	log.Println("Starting pr-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg)
	if err != nil {
		return err
	}
	defer sub.Close()

	handler := func(rec model.PacketRecord) {
		log.Printf("Received Packet: %s pid=%d %s:%d -> %s:%d size=%d",
			rec.Protocol, rec.PID,
			model.AddrString(rec.SrcIP), rec.SrcPort,
			model.AddrString(rec.DstIP), rec.DstPort, rec.Size)
	}
	if err := sub.Start(handler); err != nil {
		return fmt.Errorf("subscriber failed to start: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	return nil
}
