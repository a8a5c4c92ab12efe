package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndInterpolatesEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BITCOIN_RPC_URL", "http://node:8332")
	path := writeConfig(t, dir, `
version: 1
global:
  kv_store_path: ./data
chains:
  - name: bitcoin
    kind: l1
    subscribe_url: ws://node:28332
    rpc_url: ${BITCOIN_RPC_URL}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cfg.Global.HandoffWindow)
	assert.Equal(t, 100, cfg.Global.ScanBatchSize)
	assert.Equal(t, 256, cfg.Global.RetainedWindow)
	assert.Equal(t, ":8080", cfg.Global.HealthBindAddr)
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, "http://node:8332", cfg.Chains[0].RPCURL)
}

func TestLoadFailsOnMissingEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
version: 1
global:
  kv_store_path: ./data
chains:
  - name: bitcoin
    kind: l1
    subscribe_url: ${UNSET_VAR}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNSET_VAR")
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsMissingVersion(t *testing.T) {
	cfg := Default()
	cfg.Global.KVStorePath = "./data"
	cfg.Chains = []Chain{{Name: "bitcoin", Kind: "l1", SubscribeURL: "ws://x"}}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateChainNames(t *testing.T) {
	cfg := Default()
	cfg.Version = 1
	cfg.Global.KVStorePath = "./data"
	cfg.Chains = []Chain{
		{Name: "bitcoin", Kind: "l1", SubscribeURL: "ws://x"},
		{Name: "bitcoin", Kind: "l1", SubscribeURL: "ws://y"},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateRequiresBearerTokenWithBindAddr(t *testing.T) {
	cfg := Default()
	cfg.Version = 1
	cfg.Global.KVStorePath = "./data"
	cfg.Chains = []Chain{{Name: "bitcoin", Kind: "l1", SubscribeURL: "ws://x"}}
	cfg.API.BindAddr = ":8080"
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestChainValidateRequiresKindSpecificURL(t *testing.T) {
	l1 := Chain{Name: "bitcoin", Kind: "l1"}
	assert.Error(t, l1.Validate())

	l2 := Chain{Name: "stacks", Kind: "l2"}
	assert.Error(t, l2.Validate())

	unknown := Chain{Name: "x", Kind: "l3"}
	assert.Error(t, unknown.Validate())
}

func TestLoadDotEnvIsOptional(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
version: 1
global:
  kv_store_path: ./data
chains:
  - name: bitcoin
    kind: l1
    subscribe_url: ws://node:28332
`)
	_, err := Load(path)
	require.NoError(t, err)
}
