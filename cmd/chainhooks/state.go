package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/config"
	"github.com/chainrelay/chainhooks/internal/registry"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show predicate cursors and scan lag per chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := blockstore.OpenGoLevelDB("chainhooks", cfg.Global.KVStorePath)
		if err != nil {
			return fmt.Errorf("open block store: %w", err)
		}
		defer store.Close()

		reg := registry.New(store)

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "CHAIN\tPREDICATE\tSTATUS\tCURSOR\tTIP\tLAG\tOCCURRENCES")

		for _, ch := range cfg.Chains {
			name := chain.Name(ch.Name)

			tip, err := chainTip(store, name)
			if err != nil {
				fmt.Fprintf(out, "chain %s: %v\n", ch.Name, err)
				continue
			}

			preds, err := reg.List(name)
			if err != nil {
				return fmt.Errorf("list predicates for %s: %w", ch.Name, err)
			}
			for _, p := range preds {
				lag := int64(tip) - int64(p.Cursor)
				if lag < 0 {
					lag = 0
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", ch.Name, p.UUID, p.Status, p.Cursor, tip, lag, p.OccurrencesTotal)
			}
		}
		return tw.Flush()
	},
}

// chainTip derives the current tip height from the persisted headers,
// the same seeding path run.go uses to rehydrate a fork graph on
// startup, without needing a live upstream connection.
func chainTip(store *blockstore.Store, name chain.Name) (uint64, error) {
	raw, err := store.IterateHeaders(name)
	if err != nil {
		return 0, err
	}
	var tip uint64
	for _, rh := range raw {
		var h chain.Header
		if err := blockstore.Unmarshal(rh.Payload, &h); err != nil {
			continue
		}
		if h.ID.Height > tip {
			tip = h.ID.Height
		}
	}
	return tip, nil
}
