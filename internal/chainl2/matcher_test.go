package chainl2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
)

func TestMatchBlockHeightTrigger(t *testing.T) {
	higher := uint64(99)
	b := &Block{Header: Header{ID: chain.BlockID{Height: 100}}}
	p := &predicate.Predicate{
		UUID:    "p1",
		Trigger: predicate.Trigger{Kind: predicate.TriggerBlockHeight, BlockHeight: &predicate.HeightOp{HigherThan: &higher}},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, -1, occs[0].TxIndex)
}

func TestMatchContractCall(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 1}},
		Txs: []Tx{
			{Index: 0, ContractCall: &ContractCall{ContractIdentifier: "SP01.token", Method: "transfer"}},
		},
	}
	p := &predicate.Predicate{
		UUID: "p1",
		Trigger: predicate.Trigger{
			Kind:         predicate.TriggerContractCall,
			ContractCall: &predicate.ContractCallSpec{ContractIdentifier: "SP01.token", Method: "transfer"},
		},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
}

func TestMatchContractDeploymentByTrait(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 1}},
		Txs: []Tx{
			{Index: 0, Deployment: &Deployment{Deployer: "SP01", ContractIdentifier: "SP01.nft", ImplementedTraits: []string{"sip09"}}},
		},
	}
	p := &predicate.Predicate{
		UUID: "p1",
		Trigger: predicate.Trigger{
			Kind:               predicate.TriggerContractDeployment,
			ContractDeployment: &predicate.ContractDeploymentSpec{ImplementTrait: "sip09"},
		},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
}

func TestMatchFtEventByAssetAndAction(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 1}},
		Txs: []Tx{
			{Index: 0, FtEvents: []AssetEvent{{Kind: "mint", AssetIdentifier: "SP01.token::tok"}}},
		},
	}
	p := &predicate.Predicate{
		UUID: "p1",
		Trigger: predicate.Trigger{
			Kind:       predicate.TriggerFtEvent,
			AssetEvent: &predicate.AssetEventSpec{AssetIdentifier: "SP01.token::tok", Actions: []string{"mint"}},
		},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
}

func TestMatchPrintEventRegex(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 1}},
		Txs: []Tx{
			{Index: 0, PrintEvents: []PrintEvent{{ContractIdentifier: "SP01.market", Value: "listing-created:42"}}},
		},
	}
	p := &predicate.Predicate{
		UUID: "p1",
		Trigger: predicate.Trigger{
			Kind: predicate.TriggerPrintEvent,
			PrintEvent: &predicate.PrintEventSpec{
				ContractIdentifier: "SP01.market",
				Rule:               predicate.MatchRule{MatchesRegex: "^listing-created:"},
			},
		},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
}

func TestMatchNoMatchReturnsEmpty(t *testing.T) {
	b := &Block{Header: Header{ID: chain.BlockID{Height: 1}}, Txs: []Tx{{Index: 0}}}
	p := &predicate.Predicate{
		UUID:    "p1",
		Trigger: predicate.Trigger{Kind: predicate.TriggerContractCall, ContractCall: &predicate.ContractCallSpec{ContractIdentifier: "x", Method: "y"}},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	assert.Empty(t, occs)
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 5}},
		Txs:    []Tx{{Index: 0, ContractCall: &ContractCall{ContractIdentifier: "x", Method: "y"}}},
	}
	raw, err := b.Encode()
	require.NoError(t, err)

	got, err := DecodeBlock(raw)
	require.NoError(t, err)
	require.Len(t, got.Txs, 1)
	assert.Equal(t, "x", got.Txs[0].ContractCall.ContractIdentifier)
}
