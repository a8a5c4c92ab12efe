// Package chainl1 implements the Bitcoin-like chain's block/transaction
// shapes and the trigger matching rules of spec §4.D's L1 section.
package chainl1

import (
	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
)

// Header is an L1 block header (spec §3).
type Header struct {
	ID         chain.BlockID
	ParentHash chain.Hash
	Timestamp  uint64
}

func (h Header) ToChainHeader() chain.Header {
	return chain.Header{ID: h.ID, ParentHash: h.ParentHash, Timestamp: h.Timestamp}
}

// OutPoint identifies a previous transaction output an input spends.
type OutPoint struct {
	Txid chain.Hash
	Vout uint32
}

// TxOut is one transaction output. AddressKind/Address are populated
// by the upstream client's script classifier when it recognizes a
// standard pay-to-* template; OpReturnData is populated when the
// script is an OP_RETURN carrying pushed data.
type TxOut struct {
	Value        uint64
	ScriptPubKey []byte
	AddressKind  string // "p2pkh" | "p2sh" | "p2wpkh" | "p2wsh" | ""
	Address      string
	OpReturnData []byte
}

// TxIn is one transaction input.
type TxIn struct {
	PrevOut       OutPoint
	WitnessScript []byte
}

// StacksMarker records a detected L2-protocol marker embedded in an
// L1 transaction (spec §4.D stacks_protocol trigger).
type StacksMarker struct {
	Operation string // stacker_rewarded | block_committed | leader_registered | stx_transferred | stx_locked
}

// Inscription records that a transaction produced an ordinals
// inscription (spec §4.D ordinals_protocol trigger).
type Inscription struct {
	ContentType string
	Content     []byte
}

// Tx is one L1 transaction within a block.
type Tx struct {
	Index        int
	Txid         chain.Hash
	Inputs       []TxIn
	Outputs      []TxOut
	StacksMarker *StacksMarker
	Inscriptions []Inscription
}

// Block is a full L1 block: header plus its ordered transactions.
type Block struct {
	Header Header
	Txs    []Tx
}

// Encode msgpack-serializes the block body for storage, using the
// same codec handle the block store persists headers with.
func (b *Block) Encode() ([]byte, error) {
	return blockstore.Marshal(b)
}

// DecodeBlock msgpack-decodes a block body fetched from an upstream
// client or read back from the block store.
func DecodeBlock(payload []byte) (*Block, error) {
	var b Block
	if err := blockstore.Unmarshal(payload, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
