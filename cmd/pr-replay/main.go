package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"PacketRadar/internal/api"
	"PacketRadar/internal/config"
	"PacketRadar/internal/engine/aggregator"
	"PacketRadar/internal/engine/manager"
	"PacketRadar/internal/geo"
	"PacketRadar/internal/model"
	"PacketRadar/internal/procname"
	"PacketRadar/internal/snapshot"
	"PacketRadar/pkg/geomath"
	"PacketRadar/pkg/pcap"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	geoDir     string
	outDir     string
	serveAddr  string
	withGob    bool
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:          "pr-replay <file.pcap>...",
		Short:        "Aggregate recorded captures offline and print the flow tables",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}
	root.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (defaults are used when empty)")
	root.Flags().StringVar(&opts.geoDir, "geo-dir", "", "directory with .mmdb files (overrides geo.db_dir)")
	root.Flags().StringVarP(&opts.outDir, "out", "o", "", "write the final snapshot under this directory")
	root.Flags().BoolVar(&opts.withGob, "gob", false, "also write a gob encoded snapshot with --out")
	root.Flags().StringVar(&opts.serveAddr, "serve", "", "serve the read API on this address after replay")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options, files []string) error {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.geoDir != "" {
		cfg.Geo.DBDir = opts.geoDir
	}

	lookup, dbs, err := geo.Open(cfg.Geo.DBDir)
	if err != nil {
		return fmt.Errorf("failed to open geo databases: %w", err)
	}
	defer dbs.Close()

	agg := aggregator.New(aggregator.Config{
		TTL:            cfg.Aggregator.TTLDuration(),
		MaxLiveRows:    cfg.Aggregator.MaxLiveRows,
		MaxHistoryRows: cfg.Aggregator.MaxHistoryRows,
		Shards:         cfg.Aggregator.NumShards,
	}, lookup, procname.New())
	store := snapshot.NewStore()
	mgr := manager.NewManager(cfg.Aggregator, agg, store, manager.Options{})
	mgr.Start()

	for _, path := range files {
		n, skipped, err := replayFile(path, mgr.InputChannel())
		if err != nil {
			mgr.Stop()
			return err
		}
		log.Printf("Replayed %d packets from '%s' (%d skipped).", n, path, skipped)
	}

	// Stop drains the queue and takes the final snapshot.
	mgr.Stop()
	snap, _ := store.Latest()
	printSnapshot(os.Stdout, snap)

	if opts.outDir != "" {
		w := snapshot.NewFileWriter(opts.outDir, opts.withGob, 0)
		if err := w.Write(snap, snap.TakenAt.Format(snapshot.TimestampFormat)); err != nil {
			return err
		}
		log.Printf("Snapshot written under '%s'.", opts.outDir)
	}

	if opts.serveAddr != "" {
		return serve(opts.serveAddr, cfg, store)
	}
	return nil
}

// replayFile feeds every record in path to in. The reader closes its own
// channel, so records are forwarded rather than handed the manager's queue.
func replayFile(path string, in chan<- model.PacketRecord) (int, int, error) {
	reader, err := pcap.NewReader(path, nil)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	records := make(chan model.PacketRecord, 1024)
	skippedCh := make(chan int, 1)
	go func() { skippedCh <- reader.ReadPackets(records) }()

	n := 0
	for rec := range records {
		in <- rec
		n++
	}
	return n, <-skippedCh, nil
}

func printSnapshot(out io.Writer, snap model.Snapshot) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "PROCESS\tDESTINATION\tPORT\tPROTO\tRATE\tFLOWS")
	for _, r := range snap.Live {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d B/s\t%d\n", r.Process, r.Dest, r.Port, r.Protocol, r.BytesPerSecond, r.FlowCount)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "ORG\tDESTINATION\tCOUNTRY\tBYTES\tFLOWS")
	for _, r := range snap.History {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.Org, r.Dest, r.Country, r.Bytes, r.Count)
	}
	tw.Flush()
}

func serve(addr string, cfg *config.Config, store *snapshot.Store) error {
	srv := api.NewServer(store, api.Options{
		Home:      geomath.LatLon{Lat: cfg.Map.HomeLat, Lon: cfg.Map.HomeLon},
		PathSteps: cfg.Map.PathSteps,
	})
	server := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Serving replay results on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
