package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainhooks/internal/api"
	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/config"
	"github.com/chainrelay/chainhooks/internal/coordinator"
	"github.com/chainrelay/chainhooks/internal/dispatch"
	"github.com/chainrelay/chainhooks/internal/dispatchlog"
	"github.com/chainrelay/chainhooks/internal/forkgraph"
	"github.com/chainrelay/chainhooks/internal/health"
	"github.com/chainrelay/chainhooks/internal/logging"
	"github.com/chainrelay/chainhooks/internal/metrics"
	"github.com/chainrelay/chainhooks/internal/registry"
	"github.com/chainrelay/chainhooks/internal/scanner"
	"github.com/chainrelay/chainhooks/internal/upstream"
	"github.com/chainrelay/chainhooks/internal/upstream/l1zmq"
	"github.com/chainrelay/chainhooks/internal/upstream/l2http"
	"github.com/chainrelay/chainhooks/internal/worker"
)

var flagMetrics string

func init() {
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090), overrides nothing in config")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router: live coordinators, backfill scanners, and the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := blockstore.OpenGoLevelDB("chainhooks", cfg.Global.KVStorePath)
		if err != nil {
			return fmt.Errorf("open block store: %w", err)
		}
		defer store.Close()

		dlog, err := dispatchlog.Open(cfg.Global.DispatchLogPath)
		if err != nil {
			return fmt.Errorf("open dispatch log: %w", err)
		}
		defer dlog.Close()

		reg := registry.New(store)
		mtr := metrics.Init()
		dispatcher := dispatch.NewDispatcher(dispatch.NewMultiSender(), log)

		sources := map[string]upstream.BlockSource{}
		graphs := map[chain.Name]*forkgraph.Graph{}
		coords := map[chain.Name]*coordinator.Coordinator{}
		buffers := map[chain.Name]*coordinator.LiveBuffer{}

		for _, ch := range cfg.Chains {
			name := chain.Name(ch.Name)

			var src upstream.BlockSource
			var rule forkgraph.CanonicityRule
			switch ch.Kind {
			case "l1":
				src = l1zmq.New(ch.SubscribeURL, ch.RPCURL)
				rule = forkgraph.HeightHashTieBreak
			case "l2":
				src = l2http.New(ch.RPCURL)
				rule = forkgraph.EarliestSeenTieBreak
			default:
				return fmt.Errorf("chain %s: unsupported kind %q", ch.Name, ch.Kind)
			}
			sources[ch.Name] = src

			graph := forkgraph.New(rule, cfg.Global.RetainedWindow)
			if err := seedGraph(store, name, graph); err != nil {
				return fmt.Errorf("seed fork graph for %s: %w", ch.Name, err)
			}
			graphs[name] = graph

			buffer := coordinator.NewLiveBuffer()
			buffers[name] = buffer

			coords[name] = &coordinator.Coordinator{
				Chain:         name,
				Kind:          ch.Kind,
				Source:        src,
				Store:         store,
				Graph:         graph,
				Registry:      reg,
				Dispatcher:    dispatcher,
				Log:           dlog,
				Logger:        log,
				Metrics:       mtr,
				Buffer:        buffer,
				HandoffWindow: cfg.Global.HandoffWindow,
			}
		}

		tipLookup := func(c chain.Name) uint64 {
			if g, ok := graphs[c]; ok {
				return g.Tip().Height
			}
			return 0
		}

		if cfg.API.BindAddr != "" {
			srv := &api.Server{Registry: reg, Tip: tipLookup, BearerToken: cfg.API.BearerToken, Logger: log}
			httpSrv := &http.Server{Addr: cfg.API.BindAddr, Handler: srv.Router(), ReadHeaderTimeout: 3 * time.Second}
			go func() {
				log.Info("control API listening", "addr", cfg.API.BindAddr)
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("control API server error", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()
		}

		rpcChecker := health.NewRPCChecker(sources)
		healthSrv := health.Serve(cfg.Global.HealthBindAddr, health.Checker{DBPing: func(context.Context) error { return store.Ping() }, ChainPings: rpcChecker.Pings()})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = health.Shutdown(shutdownCtx, healthSrv)
		}()

		metricsAddr := flagMetrics
		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
				log.Info("metrics listening", "addr", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		var wg sync.WaitGroup
		for name, co := range coords {
			wg.Add(1)
			go func(name chain.Name, co *coordinator.Coordinator) {
				defer wg.Done()
				log.Info("coordinator starting", "chain", name)
				if err := co.Run(ctx); err != nil && err != context.Canceled {
					log.Error("coordinator stopped", "chain", name, "error", err)
				}
			}(name, co)
		}

		scanPool := worker.New(runtime.NumCPU(), cfg.Global.ScanBatchSize)
		defer scanPool.StopAndWait()

		for _, ch := range cfg.Chains {
			name := chain.Name(ch.Name)
			wg.Add(1)
			go func(ch config.Chain, name chain.Name) {
				defer wg.Done()
				runScanLoop(ctx, ch, name, store, reg, dispatcher, dlog, log, mtr, cfg, graphs[name], buffers[name], scanPool)
			}(ch, name)
		}

		log.Info("chainhooks started", "chains", len(cfg.Chains))
		<-ctx.Done()
		log.Info("shutdown signal received, draining")

		grace := 5 * time.Second
		if d, err := time.ParseDuration(cfg.Global.ShutdownGrace); err == nil {
			grace = d
		}
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			log.Warn("shutdown grace period exceeded, exiting anyway")
		}
		return nil
	},
}

// seedGraph rehydrates a chain's fork graph from its persisted
// headers after a restart (SPEC_FULL §4.B supplement).
func seedGraph(store *blockstore.Store, name chain.Name, graph *forkgraph.Graph) error {
	raw, err := store.IterateHeaders(name)
	if err != nil {
		return err
	}
	headers := make([]chain.Header, 0, len(raw))
	for _, rh := range raw {
		var h chain.Header
		if err := blockstore.Unmarshal(rh.Payload, &h); err != nil {
			return fmt.Errorf("decode header %s: %w", rh.ID, err)
		}
		headers = append(headers, h)
	}
	graph.Seed(headers)
	return nil
}

// runScanLoop watches the registry for predicates that still need
// backfilling and runs one scanner.Job per predicate at a time,
// looping until ctx is cancelled (spec §4.G: "one job per predicate,
// running concurrently with the live coordinator").
func runScanLoop(ctx context.Context, ch config.Chain, name chain.Name, store *blockstore.Store, reg *registry.Registry, dispatcher *dispatch.Dispatcher, dlog *dispatchlog.Store, log *slog.Logger, mtr *metrics.Metrics, cfg *config.Config, graph *forkgraph.Graph, buffer *coordinator.LiveBuffer, pool *worker.Pool) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	running := map[string]struct{}{}
	var mu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		due, err := reg.ListDueForScan(name)
		if err != nil {
			log.Error("list due predicates failed", "chain", name, "error", err)
			continue
		}

		for _, p := range due {
			mu.Lock()
			_, active := running[p.UUID]
			if !active {
				running[p.UUID] = struct{}{}
			}
			mu.Unlock()
			if active {
				continue
			}

			go func(uuid string) {
				defer func() {
					mu.Lock()
					delete(running, uuid)
					mu.Unlock()
				}()

				job := &scanner.Job{
					Chain:      name,
					Kind:       ch.Kind,
					Store:      store,
					Registry:   reg,
					Dispatcher: dispatcher,
					Log:        dlog,
					Logger:     log,
					Metrics:    mtr,
					Buffer:     buffer,
					BatchSize:  cfg.Global.ScanBatchSize,
					Handoff:    cfg.Global.HandoffWindow,
				}
				tipFn := func() uint64 { return graph.Tip().Height }
				err := pool.RunAll(ctx, []func() error{
					func() error { return job.Run(ctx, uuid, tipFn) },
				})
				if err != nil && err != context.Canceled {
					log.Error("scan job failed", "chain", name, "predicate_uuid", uuid, "error", err)
				}
			}(p.UUID)
		}
	}
}
