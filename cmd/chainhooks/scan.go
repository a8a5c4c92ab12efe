package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/config"
	"github.com/chainrelay/chainhooks/internal/dispatch"
	"github.com/chainrelay/chainhooks/internal/dispatchlog"
	"github.com/chainrelay/chainhooks/internal/logging"
	"github.com/chainrelay/chainhooks/internal/registry"
	"github.com/chainrelay/chainhooks/internal/scanner"
)

var (
	scanChain string
	scanUUID  string
)

func init() {
	scanCmd.Flags().StringVar(&scanChain, "chain", "", "Chain the predicate belongs to (required)")
	scanCmd.Flags().StringVar(&scanUUID, "uuid", "", "Predicate uuid to backfill (required)")
}

// scanCmd is spec §2's `scan`: a one-shot backfill of a single
// predicate against the persisted block store, for operators who want
// to force a predicate through its New/Scanning window without
// waiting on the regular run loop's 3-second poll (cmd/chainhooks's
// runScanLoop). It exits once the job hands off to Streaming or the
// predicate expires/disables — it does not loop.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot backfill scan for a single predicate",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scanChain == "" || scanUUID == "" {
			return fmt.Errorf("--chain and --uuid are required")
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ch, err := findChain(cfg, scanChain)
		if err != nil {
			return err
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

		log := logging.New()
		reg := registry.New(store)
		dispatcher := dispatch.NewDispatcher(dispatch.NewMultiSender(), log)
		name := chain.Name(scanChain)

		job := &scanner.Job{
			Chain:      name,
			Kind:       ch.Kind,
			Store:      store,
			Registry:   reg,
			Dispatcher: dispatcher,
			Log:        dlog,
			Logger:     log,
			BatchSize:  cfg.Global.ScanBatchSize,
			Handoff:    cfg.Global.HandoffWindow,
		}

		tipFn := func() uint64 {
			tip, err := chainTip(store, name)
			if err != nil {
				log.Error("derive tip failed during scan", "chain", name, "error", err)
			}
			return tip
		}

		if err := job.Run(cmd.Context(), scanUUID, tipFn); err != nil {
			return fmt.Errorf("scan %s/%s: %w", scanChain, scanUUID, err)
		}

		p, err := reg.Get(name, scanUUID)
		if err != nil {
			return fmt.Errorf("get predicate after scan: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scan complete: predicate=%s chain=%s status=%s cursor=%d occurrences=%d\n",
			scanUUID, scanChain, p.Status, p.Cursor, p.OccurrencesTotal)
		return nil
	},
}

func findChain(cfg *config.Config, name string) (config.Chain, error) {
	for _, ch := range cfg.Chains {
		if ch.Name == name {
			return ch, nil
		}
	}
	return config.Chain{}, fmt.Errorf("chain %q not found in config", name)
}
