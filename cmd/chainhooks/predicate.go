package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/config"
	"github.com/chainrelay/chainhooks/internal/predicate"
	"github.com/chainrelay/chainhooks/internal/registry"
)

var predicateCmd = &cobra.Command{
	Use:   "predicate",
	Short: "Manage registered predicates",
}

var (
	predFile    string
	predChain   string
	predAPIAddr string
	predToken   string
)

func init() {
	registerCmd.Flags().StringVar(&predFile, "file", "", "Path to a JSON predicate document (required)")
	registerCmd.Flags().StringVar(&predAPIAddr, "api", "http://localhost:8080", "Base URL of a running chainhooks control API")
	registerCmd.Flags().StringVar(&predToken, "token", "", "Bearer token for the control API")
	predicateListCmd.Flags().StringVar(&predChain, "chain", "", "Restrict to one chain (defaults to all configured chains)")
	predicateDeleteCmd.Flags().StringVar(&predChain, "chain", "", "Chain the predicate belongs to (required)")

	predicateCmd.AddCommand(predicateListCmd, predicateDeleteCmd)
}

// registerCmd is spec §2's top-level `register`: it never touches the
// KV store directly, since a running instance's coordinator owns it;
// it POSTs the predicate file to that instance's control API instead
// (spec §6, "POST /v1/chainhooks").
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "POST a predicate file to a running chainhooks instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		if predFile == "" {
			return fmt.Errorf("--file is required")
		}
		raw, err := os.ReadFile(predFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", predFile, err)
		}
		var p predicate.Predicate
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parse predicate: %w", err)
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, predAPIAddr+"/v1/chainhooks", bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if predToken != "" {
			req.Header.Set("Authorization", "Bearer "+predToken)
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("POST %s: %w", predAPIAddr, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("register %s: server returned %d: %s", p.UUID, resp.StatusCode, string(body))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "registered predicate %s on chain %s\n", p.UUID, p.Chain)
		return nil
	},
}

var predicateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered predicates",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, reg, cfg, err := openStoreAndRegistry()
		if err != nil {
			return err
		}
		defer store.Close()

		chains := []string{predChain}
		if predChain == "" {
			chains = nil
			for _, ch := range cfg.Chains {
				chains = append(chains, ch.Name)
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		for _, c := range chains {
			preds, err := reg.List(chain.Name(c))
			if err != nil {
				return fmt.Errorf("list predicates for %s: %w", c, err)
			}
			for _, p := range preds {
				if err := enc.Encode(p); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

var predicateDeleteCmd = &cobra.Command{
	Use:   "delete [uuid]",
	Short: "Delete a predicate by uuid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if predChain == "" {
			return fmt.Errorf("--chain is required")
		}
		store, reg, _, err := openStoreAndRegistry()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := reg.Delete(chain.Name(predChain), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted predicate %s on chain %s\n", args[0], predChain)
		return nil
	},
}

func openStoreAndRegistry() (*blockstore.Store, *registry.Registry, *config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := blockstore.OpenGoLevelDB("chainhooks", cfg.Global.KVStorePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open block store: %w", err)
	}
	return store, registry.New(store), cfg, nil
}
