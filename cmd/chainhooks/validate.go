package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainhooks/internal/config"
	"github.com/chainrelay/chainhooks/internal/upstream/l1zmq"
	"github.com/chainrelay/chainhooks/internal/upstream/l2http"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping upstream chain endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		failures := 0
		for _, ch := range cfg.Chains {
			if err := pingChain(cmd.Context(), ch); err != nil {
				failures++
				fmt.Fprintf(out, "- chain %s (%s): ERROR %v\n", ch.Name, ch.Kind, err)
				continue
			}
			fmt.Fprintf(out, "- chain %s (%s): OK\n", ch.Name, ch.Kind)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d chain(s) failed connectivity", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingChain(ctx context.Context, ch config.Chain) error {
	switch ch.Kind {
	case "l1":
		cli := l1zmq.New(ch.SubscribeURL, ch.RPCURL)
		_, err := cli.GetHeaderByHeight(ctx, 0)
		return err
	case "l2":
		cli := l2http.New(ch.RPCURL)
		_, err := cli.GetHeaderByHeight(ctx, 0)
		return err
	default:
		return fmt.Errorf("unsupported chain kind %q", ch.Kind)
	}
}
