package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PacketRadar/internal/api"
	"PacketRadar/internal/config"
	"PacketRadar/internal/engine/aggregator"
	"PacketRadar/internal/engine/manager"
	"PacketRadar/internal/engine/streamaggregator"
	"PacketRadar/internal/factory"
	"PacketRadar/internal/geo"
	"PacketRadar/internal/metrics"
	"PacketRadar/internal/probe"
	"PacketRadar/internal/procname"
	"PacketRadar/internal/snapshot"
	"PacketRadar/pkg/geomath"

	_ "PacketRadar/internal/sink/clickhouse" // Registers the clickhouse writer

	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		listenAddr string
		grpcAddr   string
		geoDir     string
	)

	root := &cobra.Command{
		Use:          "pr-engine",
		Short:        "Aggregate packet records from NATS and serve the live and historical views",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			log.Println("Configuration loaded successfully.")

			// CLI flags override config values.
			if listenAddr != "" {
				cfg.API.ListenAddr = listenAddr
			}
			if grpcAddr != "" {
				cfg.API.GRPCListenAddr = grpcAddr
			}
			if geoDir != "" {
				cfg.Geo.DBDir = geoDir
			}
			return run(cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	root.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides api.listen_addr)")
	root.Flags().StringVar(&grpcAddr, "grpc-listen", "", "gRPC health listen address (overrides api.grpc_listen_addr)")
	root.Flags().StringVar(&geoDir, "geo-dir", "", "directory with .mmdb files (overrides geo.db_dir)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log.Println("Starting pr-engine...")

	lookup, dbs, err := geo.Open(cfg.Geo.DBDir)
	if err != nil {
		return fmt.Errorf("failed to open geo databases: %w", err)
	}
	defer dbs.Close()
	if !dbs.Loaded() {
		log.Printf("No geo databases found in '%s'; map points will be empty.", cfg.Geo.DBDir)
	}

	agg := aggregator.New(aggregator.Config{
		TTL:            cfg.Aggregator.TTLDuration(),
		MaxLiveRows:    cfg.Aggregator.MaxLiveRows,
		MaxHistoryRows: cfg.Aggregator.MaxHistoryRows,
		Shards:         cfg.Aggregator.NumShards,
	}, lookup, procname.New())

	exp := metrics.NewExporter()
	store := snapshot.NewStore()
	mgr := manager.NewManager(cfg.Aggregator, agg, store, manager.Options{
		Metrics: exp,
		Writers: factory.CreateWriters(cfg.Writers),
	})

	srv := api.NewServer(store, api.Options{
		Home:      geomath.LatLon{Lat: cfg.Map.HomeLat, Lon: cfg.Map.HomeLon},
		PathSteps: cfg.Map.PathSteps,
		Metrics:   exp,
	})
	mgr.OnSnapshot(srv.Hub().Broadcast)

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		return err
	}
	streamAgg := streamaggregator.NewStreamAggregator(sub, mgr)
	if err := streamAgg.Start(); err != nil {
		return err
	}

	health := api.NewHealthServer()
	grpcLis, err := net.Listen("tcp", cfg.API.GRPCListenAddr)
	if err != nil {
		streamAgg.Stop()
		return fmt.Errorf("failed to listen on %s: %w", cfg.API.GRPCListenAddr, err)
	}
	go func() {
		if err := health.Serve(grpcLis); err != nil {
			log.Printf("gRPC health server stopped: %v", err)
		}
	}()
	health.SetServing(true)

	server := &http.Server{Addr: cfg.API.ListenAddr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Shutdown signal received, stopping engine...")
	case err = <-errCh:
		log.Printf("API server failed: %v", err)
	}

	health.SetServing(false)
	streamAgg.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	health.Stop()
	log.Println("Shutdown complete.")
	return err
}
