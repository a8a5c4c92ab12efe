// Package chainl2 implements the Stacks-like smart-contract chain's
// block/transaction shapes and the trigger matching rules of spec
// §4.D's L2 section.
package chainl2

import (
	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
)

// Header is an L2 block header, anchored to an L1 block (spec §3).
type Header struct {
	ID         chain.BlockID
	ParentHash chain.Hash
	Timestamp  uint64
	L1Anchor   chain.BlockID
}

func (h Header) ToChainHeader() chain.Header {
	anchor := h.L1Anchor
	return chain.Header{ID: h.ID, ParentHash: h.ParentHash, Timestamp: h.Timestamp, L1Anchor: &anchor}
}

// ContractCall describes a contract-call transaction's target.
type ContractCall struct {
	ContractIdentifier string
	Method              string
}

// Deployment describes a contract-deploy transaction.
type Deployment struct {
	Deployer            string
	ContractIdentifier  string
	ImplementedTraits   []string // e.g. "sip09", "sip10"
}

// PrintEvent is one `print` event a contract call emitted.
type PrintEvent struct {
	ContractIdentifier string
	Value               string
}

// AssetEvent is one ft/nft/stx movement event.
type AssetEvent struct {
	Kind            string // mint | burn | transfer
	AssetIdentifier string // empty for STX
}

// Tx is one L2 transaction within a block.
type Tx struct {
	Index        int
	Txid         chain.Hash
	ContractCall *ContractCall
	Deployment   *Deployment
	PrintEvents  []PrintEvent
	FtEvents     []AssetEvent
	NftEvents    []AssetEvent
	StxEvents    []AssetEvent
}

// Block is a full L2 block: header plus its ordered transactions.
type Block struct {
	Header Header
	Txs    []Tx
}

// Encode msgpack-serializes the block body for storage.
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
