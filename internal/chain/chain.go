// Package chain holds the types shared by both tracked chains: the
// block identifier, the directive edit a fork graph emits, and the
// minimal read-only surfaces the matcher and block store need.
package chain

import (
	"encoding/hex"
	"fmt"
)

// Name identifies which of the two tracked chains a value belongs to.
type Name string

const (
	L1 Name = "bitcoin"
	L2 Name = "stacks"
)

// Hash is a chain-native block or transaction hash.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash (used as "no parent"/"no anchor").
func (h Hash) IsZero() bool { return h == Hash{} }

func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash %q has %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// BlockID is the (height, hash) pair that uniquely identifies a block
// within a chain's history, per spec §3.
type BlockID struct {
	Height uint64
	Hash   Hash
}

func (b BlockID) String() string { return fmt.Sprintf("%d:%s", b.Height, b.Hash) }

// Header is the chain-agnostic subset of a block header the fork
// graph needs to compute canonicity and walk ancestry.
type Header struct {
	ID         BlockID
	ParentHash Hash
	Timestamp  uint64
	// L1Anchor is populated only for L2 headers: the L1 BlockID this
	// L2 block commits to (spec §3, "chain-specific extras").
	L1Anchor *BlockID
}

// DirectiveKind distinguishes the two ChainEdit directive shapes.
type DirectiveKind int

const (
	Apply DirectiveKind = iota
	Rollback
)

func (k DirectiveKind) String() string {
	if k == Apply {
		return "apply"
	}
	return "rollback"
}

// Directive is one step of a ChainEdit: apply or roll back the block
// at the given BlockID.
type Directive struct {
	Kind DirectiveKind
	ID   BlockID
}

// Edit is the ordered list of directives needed to move a chain's
// canonical view from an old tip to a new one (spec §4.B). Rollbacks
// always precede Applies. Divergent is set when the common ancestor
// fell outside the retained window and the coordinator must restart
// from an earlier confirmed height via the scanner.
type Edit struct {
	Directives []Directive
	NewTip     BlockID
	Divergent  bool
}

// Rollbacks/Applies split the edit's directives for convenience.
func (e Edit) Rollbacks() []Directive { return filterKind(e.Directives, Rollback) }
func (e Edit) Applies() []Directive   { return filterKind(e.Directives, Apply) }

func filterKind(ds []Directive, k DirectiveKind) []Directive {
	out := make([]Directive, 0, len(ds))
	for _, d := range ds {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

// Empty reports whether the edit has no directives (new tip == old tip).
func (e Edit) Empty() bool { return len(e.Directives) == 0 && !e.Divergent }

// Occurrence is one predicate match (spec §4.D): the transaction
// reference plus whatever per-variant payload the matcher extracted
// once, so the dispatcher never re-scans the block.
type Occurrence struct {
	BlockID BlockID
	TxIndex int
	Payload map[string]any
}

