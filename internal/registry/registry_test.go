package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
)

func samplePredicate(uuid string) predicate.Predicate {
	return predicate.Predicate{
		UUID:    uuid,
		Chain:   chain.L1,
		Name:    "test",
		Trigger: predicate.Trigger{Kind: predicate.TriggerBlock},
		Action:  predicate.Action{Kind: predicate.ActionNoop},
	}
}

func TestRegisterSeedsCursorFromStartBlock(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	start := uint64(500)
	p := samplePredicate("u1")
	p.Bounds.StartBlock = &start

	require.NoError(t, r.Register(p, 1000))

	got, err := r.Get(chain.L1, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(499), got.Cursor)
	assert.Equal(t, predicate.StatusNew, got.Status)
}

func TestRegisterSeedsCursorFromTipWhenNoStartBlock(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	require.NoError(t, r.Register(samplePredicate("u1"), 1000))

	got, err := r.Get(chain.L1, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got.Cursor)
}

func TestRegisterRejectsDuplicateUUID(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	require.NoError(t, r.Register(samplePredicate("u1"), 0))
	err := r.Register(samplePredicate("u1"), 0)
	assert.ErrorIs(t, err, ErrExists)
}

func TestGetNotFound(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	_, err := r.Get(chain.L1, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdvanceCursorIsMonotoneUnlessForced(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	require.NoError(t, r.Register(samplePredicate("u1"), 100))

	require.NoError(t, r.AdvanceCursor(chain.L1, "u1", 50, false))
	got, _ := r.Get(chain.L1, "u1")
	assert.Equal(t, uint64(100), got.Cursor, "lower height without force should not regress the cursor")

	require.NoError(t, r.AdvanceCursor(chain.L1, "u1", 150, false))
	got, _ = r.Get(chain.L1, "u1")
	assert.Equal(t, uint64(150), got.Cursor)

	require.NoError(t, r.AdvanceCursor(chain.L1, "u1", 10, true))
	got, _ = r.Get(chain.L1, "u1")
	assert.Equal(t, uint64(10), got.Cursor, "force should allow regressing the cursor on rewind")
}

func TestRecordOccurrencesExpiresPredicate(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	p := samplePredicate("u1")
	limit := uint64(2)
	p.Bounds.ExpireAfterOccurrence = &limit
	require.NoError(t, r.Register(p, 0))

	require.NoError(t, r.RecordOccurrences(chain.L1, "u1", 1))
	got, _ := r.Get(chain.L1, "u1")
	assert.Equal(t, predicate.StatusNew, got.Status)

	require.NoError(t, r.RecordOccurrences(chain.L1, "u1", 1))
	got, _ = r.Get(chain.L1, "u1")
	assert.Equal(t, predicate.StatusExpired, got.Status)
	assert.Equal(t, uint64(2), got.OccurrencesTotal)
}

func TestListDueForScanFiltersByStatus(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	require.NoError(t, r.Register(samplePredicate("u1"), 0))
	require.NoError(t, r.Register(samplePredicate("u2"), 0))
	require.NoError(t, r.SetStatus(chain.L1, "u2", predicate.StatusStreaming))

	due, err := r.ListDueForScan(chain.L1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "u1", due[0].UUID)
}

func TestDeleteRemovesPredicate(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	require.NoError(t, r.Register(samplePredicate("u1"), 0))
	require.NoError(t, r.Delete(chain.L1, "u1"))

	_, err := r.Get(chain.L1, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = r.Delete(chain.L1, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListIsSortedByUUID(t *testing.T) {
	r := New(blockstore.OpenMemDB())
	require.NoError(t, r.Register(samplePredicate("b"), 0))
	require.NoError(t, r.Register(samplePredicate("a"), 0))

	list, err := r.List(chain.L1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].UUID)
	assert.Equal(t, "b", list[1].UUID)
}
