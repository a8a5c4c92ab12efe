package blockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/chain"
)

func mkHash(b byte) chain.Hash {
	var h chain.Hash
	h[0] = b
	return h
}

func TestApplyBlockAndScanRange(t *testing.T) {
	s := OpenMemDB()
	defer s.Close()

	for height := uint64(1); height <= 3; height++ {
		id := chain.BlockID{Height: height, Hash: mkHash(byte(height))}
		header := []byte{byte(height), 'h'}
		block := []byte{byte(height), 'b'}
		require.NoError(t, s.ApplyBlock(chain.L1, id, header, block))
	}

	items, err := s.ScanRange(chain.L1, 1, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, uint64(1), items[0].Height)
	assert.Equal(t, uint64(3), items[2].Height)
	assert.Equal(t, []byte{3, 'b'}, items[2].Block)
}

func TestReindexCanonicalClearsOnNilHash(t *testing.T) {
	s := OpenMemDB()
	defer s.Close()

	id := chain.BlockID{Height: 1, Hash: mkHash(1)}
	require.NoError(t, s.ApplyBlock(chain.L1, id, []byte("h"), []byte("b")))

	_, err := s.CanonicalHash(chain.L1, 1)
	require.NoError(t, err)

	require.NoError(t, s.ReindexCanonical(chain.L1, 1, nil))
	_, err = s.CanonicalHash(chain.L1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBlockNotFound(t *testing.T) {
	s := OpenMemDB()
	defer s.Close()

	_, err := s.GetBlock(chain.L1, mkHash(9))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIterateHeadersAscending(t *testing.T) {
	s := OpenMemDB()
	defer s.Close()

	for _, height := range []uint64{3, 1, 2} {
		id := chain.BlockID{Height: height, Hash: mkHash(byte(height))}
		require.NoError(t, s.PutBlock(chain.L1, id, []byte("h"), []byte("b")))
	}

	raw, err := s.IterateHeaders(chain.L1)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, uint64(1), raw[0].ID.Height)
	assert.Equal(t, uint64(2), raw[1].ID.Height)
	assert.Equal(t, uint64(3), raw[2].ID.Height)
}

func TestRawKeyspaceCRUD(t *testing.T) {
	s := OpenMemDB()
	defer s.Close()

	_, ok, err := s.GetRaw([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutRaw([]byte("predicates|bitcoin|abc"), []byte("payload")))
	v, ok, err := s.GetRaw([]byte("predicates|bitcoin|abc"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), v)

	all, err := s.IterateRaw([]byte("predicates|bitcoin|"))
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteRaw([]byte("predicates|bitcoin|abc")))
	_, ok, err = s.GetRaw([]byte("predicates|bitcoin|abc"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type sample struct {
		Name   string
		Height uint64
	}
	in := sample{Name: "x", Height: 42}
	raw, err := Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}
