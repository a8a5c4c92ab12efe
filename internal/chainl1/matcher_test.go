package chainl1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
)

func txid(b byte) chain.Hash {
	var h chain.Hash
	h[0] = b
	return h
}

func TestMatchBlockTriggerEmitsOneOccurrencePerBlock(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 100}},
		Txs: []Tx{
			{Index: 0, Txid: txid(1)},
			{Index: 1, Txid: txid(2)},
		},
	}
	p := &predicate.Predicate{UUID: "p1", Trigger: predicate.Trigger{Kind: predicate.TriggerBlock}}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, -1, occs[0].TxIndex)
}

func TestMatchTxidTrigger(t *testing.T) {
	target := txid(7)
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 1}},
		Txs: []Tx{
			{Index: 0, Txid: txid(1)},
			{Index: 1, Txid: target},
		},
	}
	p := &predicate.Predicate{UUID: "p1", Trigger: predicate.Trigger{Kind: predicate.TriggerTxid, TxidEquals: target.String()}}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, 1, occs[0].TxIndex)
}

func TestMatchOutOfBoundsHeightYieldsNothing(t *testing.T) {
	start := uint64(50)
	b := &Block{Header: Header{ID: chain.BlockID{Height: 10}}, Txs: []Tx{{Index: 0, Txid: txid(1)}}}
	p := &predicate.Predicate{
		UUID:    "p1",
		Trigger: predicate.Trigger{Kind: predicate.TriggerBlock},
		Bounds:  predicate.Bounds{StartBlock: &start},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	assert.Empty(t, occs)
}

func TestMatchOutputsOpReturn(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 1}},
		Txs: []Tx{
			{Index: 0, Outputs: []TxOut{{OpReturnData: []byte("hello-world")}}},
		},
	}
	p := &predicate.Predicate{
		UUID: "p1",
		Trigger: predicate.Trigger{
			Kind:            predicate.TriggerOutputsOpReturn,
			OutputsOpReturn: &predicate.MatchRule{StartsWith: "68656c6c6f"}, // hex of "hello"
		},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
}

func TestMatchOutputsP2PKHAddress(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 1}},
		Txs: []Tx{
			{Index: 0, Outputs: []TxOut{{AddressKind: "p2pkh", Address: "1A1zP1"}}},
		},
	}
	p := &predicate.Predicate{
		UUID: "p1",
		Trigger: predicate.Trigger{
			Kind:           predicate.TriggerOutputsP2PKH,
			OutputsAddress: &predicate.MatchRule{Equals: "1A1zP1"},
		},
	}

	occs, err := Match(b, p)
	require.NoError(t, err)
	require.Len(t, occs, 1)
}

func TestMatchUnsupportedTriggerErrors(t *testing.T) {
	b := &Block{Header: Header{ID: chain.BlockID{Height: 1}}, Txs: []Tx{{Index: 0}}}
	p := &predicate.Predicate{UUID: "p1", Trigger: predicate.Trigger{Kind: "bogus"}}

	_, err := Match(b, p)
	assert.Error(t, err)
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	b := &Block{
		Header: Header{ID: chain.BlockID{Height: 5, Hash: txid(5)}, ParentHash: txid(4)},
		Txs:    []Tx{{Index: 0, Txid: txid(1)}},
	}
	raw, err := b.Encode()
	require.NoError(t, err)

	got, err := DecodeBlock(raw)
	require.NoError(t, err)
	assert.Equal(t, b.Header.ID, got.Header.ID)
	require.Len(t, got.Txs, 1)
	assert.Equal(t, b.Txs[0].Txid, got.Txs[0].Txid)
}
