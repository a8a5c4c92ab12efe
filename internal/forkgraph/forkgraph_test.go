package forkgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/chain"
)

func hash(b byte) chain.Hash {
	var h chain.Hash
	h[0] = b
	return h
}

func header(height uint64, h, parent byte) chain.Header {
	return chain.Header{
		ID:         chain.BlockID{Height: height, Hash: hash(h)},
		ParentHash: hash(parent),
	}
}

func TestIngestLinearChainAppliesEachBlock(t *testing.T) {
	g := New(HeightHashTieBreak, 0)

	edit := g.Ingest(header(1, 1, 0))
	require.Len(t, edit.Applies(), 1)
	assert.Empty(t, edit.Rollbacks())

	edit = g.Ingest(header(2, 2, 1))
	require.Len(t, edit.Applies(), 1)
	assert.Equal(t, uint64(2), edit.NewTip.Height)
}

func TestIngestReorgRollsBackAndAppliesNewBranch(t *testing.T) {
	g := New(HeightHashTieBreak, 0)

	g.Ingest(header(1, 1, 0))
	g.Ingest(header(2, 2, 1))
	g.Ingest(header(3, 3, 2))

	// Competing branch at height 3 with a lexicographically smaller
	// hash than the current tip wins the tie-break.
	edit := g.Ingest(header(3, 0, 2))

	require.Len(t, edit.Rollbacks(), 1)
	require.Len(t, edit.Applies(), 1)
	assert.Equal(t, uint64(3), edit.Rollbacks()[0].ID.Height)
	assert.False(t, edit.Divergent)
}

func TestIngestSameTipIsNoop(t *testing.T) {
	g := New(HeightHashTieBreak, 0)
	h := header(1, 1, 0)
	g.Ingest(h)
	edit := g.Ingest(h)
	assert.True(t, edit.Empty())
}

func TestIngestDivergentBeyondWindowMarksDivergent(t *testing.T) {
	g := New(HeightHashTieBreak, 2)

	g.Ingest(header(1, 1, 0))
	g.Ingest(header(2, 2, 1))
	g.Ingest(header(3, 3, 2))
	g.Ingest(header(4, 4, 3))

	// A branch rooted at a parent evicted from the retained window.
	edit := g.Ingest(header(5, 5, 99))
	assert.True(t, edit.Divergent)
}

func TestEarliestSeenTieBreakPrefersFirstObserved(t *testing.T) {
	g := New(EarliestSeenTieBreak, 0)

	g.Ingest(header(1, 1, 0))
	first := g.Ingest(header(2, 2, 1))
	require.False(t, first.Empty())

	// A second header at the same height, seen later, should not
	// displace the first-seen tip.
	second := g.Ingest(header(2, 3, 1))
	assert.Equal(t, uint64(2), g.Tip().Height)
	assert.Equal(t, hash(2), g.Tip().Hash)
	assert.True(t, second.Empty())
}

func TestSeedRehydratesTip(t *testing.T) {
	g := New(HeightHashTieBreak, 0)
	g.Seed([]chain.Header{
		header(1, 1, 0),
		header(2, 2, 1),
		header(3, 3, 2),
	})
	assert.Equal(t, uint64(3), g.Tip().Height)
}
